package handler

import (
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

// Naddr addresses a replaceable video event.
type Naddr struct {
	Identifier string   `json:"identifier"`
	PubKey     string   `json:"pubkey"`
	Relays     []string `json:"relays"`
	Kind       int      `json:"kind"`
}

// RecoverResult is the content of recover and upload result events.
type RecoverResult struct {
	EventID string                  `json:"eventId"`
	Relay   string                  `json:"relay,omitempty"`
	Video   string                  `json:"video"`
	Thumb   string                  `json:"thumb"`
	Info    string                  `json:"info"`
	Blobs   []models.BlobDescriptor `json:"blobs"`
}

// ArchiveResult is the content of archive result events.
type ArchiveResult struct {
	EventID string                  `json:"eventId"`
	Video   string                  `json:"video"`
	Thumb   string                  `json:"thumb"`
	Info    string                  `json:"info"`
	Naddr   Naddr                   `json:"naddr"`
	Blobs   []models.BlobDescriptor `json:"blobs"`
}

func newRecoverResult(eventID, relay string, v *models.VideoAsset, blobs []models.BlobDescriptor) RecoverResult {
	if blobs == nil {
		blobs = []models.BlobDescriptor{}
	}
	return RecoverResult{
		EventID: eventID,
		Relay:   relay,
		Video:   v.VideoSha256,
		Thumb:   v.ThumbSha256,
		Info:    v.InfoSha256,
		Blobs:   blobs,
	}
}

func newArchiveResult(published *PublishedVideo, v *models.VideoAsset, blobs []models.BlobDescriptor) ArchiveResult {
	if blobs == nil {
		blobs = []models.BlobDescriptor{}
	}
	return ArchiveResult{
		EventID: published.EventID,
		Video:   v.VideoSha256,
		Thumb:   v.ThumbSha256,
		Info:    v.InfoSha256,
		Naddr:   published.Naddr,
		Blobs:   blobs,
	}
}
