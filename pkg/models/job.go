package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies what a queued Job does with its payload.
type JobType string

const (
	JobTypeDownload       JobType = "download"
	JobTypeExtendMetadata JobType = "extend-metadata"
	JobTypeCreateHashes   JobType = "create-hashes"
	JobTypeNostrUpload    JobType = "nostr-upload"
	JobTypeMirror         JobType = "mirror"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{
	JobTypeDownload,
	JobTypeExtendMetadata,
	JobTypeCreateHashes,
	JobTypeNostrUpload,
	JobTypeMirror,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RequiresVideoID reports whether the payload of t names a stored video.
func (t JobType) RequiresVideoID() bool {
	switch t {
	case JobTypeExtendMetadata, JobTypeCreateHashes, JobTypeNostrUpload:
		return true
	}
	return false
}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is a unit of background work. Payload is a URL, a video id or an
// nevent pointer depending on Type. Only one queued Job may exist for a
// given (Type, Payload) pair.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Type         JobType    `db:"type"          json:"type"`
	Payload      string     `db:"payload"       json:"payload"`
	Owner        string     `db:"owner"         json:"owner,omitempty"`
	Status       string     `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	AddedAt      time.Time  `db:"added_at"      json:"added_at"`
	ProcessedAt  *time.Time `db:"processed_at"  json:"processed_at,omitempty"`
}
