package models

// BlobDescriptor describes a blob held by a content-addressed blob server.
// Older servers report the upload time as "created", newer ones as
// "uploaded".
type BlobDescriptor struct {
	URL      string `json:"url"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Type     string `json:"type,omitempty"`
	Uploaded int64  `json:"uploaded,omitempty"`
	Created  int64  `json:"created,omitempty"`
}

// CreatedAt returns the blob's upload time as a unix timestamp.
func (b BlobDescriptor) CreatedAt() int64 {
	if b.Uploaded != 0 {
		return b.Uploaded
	}
	return b.Created
}
