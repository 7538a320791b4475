package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoAsset is a video stored in one of the configured media stores,
// together with its thumbnail and info file. Paths are relative to the
// store root.
type VideoAsset struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Store       string    `db:"store"        json:"store"`
	VideoPath   string    `db:"video_path"   json:"video_path"`
	VideoSha256 string    `db:"video_sha256" json:"video_sha256,omitempty"`
	InfoPath    string    `db:"info_path"    json:"info_path,omitempty"`
	InfoSha256  string    `db:"info_sha256"  json:"info_sha256,omitempty"`
	ThumbPath   string    `db:"thumb_path"   json:"thumb_path,omitempty"`
	ThumbSha256 string    `db:"thumb_sha256" json:"thumb_sha256,omitempty"`
	MediaSize   int64     `db:"media_size"   json:"media_size"`
	Width       int       `db:"width"        json:"width"`
	Height      int       `db:"height"       json:"height"`

	Source      string    `db:"source"       json:"source"`
	ExternalID  string    `db:"external_id"  json:"external_id"`
	ChannelID   string    `db:"channel_id"   json:"channel_id,omitempty"`
	ChannelName string    `db:"channel_name" json:"channel_name,omitempty"`
	Title       string    `db:"title"        json:"title"`
	Description string    `db:"description"  json:"description,omitempty"`
	Duration    int       `db:"duration"     json:"duration"`
	Published   time.Time `db:"published"    json:"published"`
	Language    string    `db:"language"     json:"language,omitempty"`
	AgeLimit    int       `db:"age_limit"    json:"age_limit"`
	Tags        []string  `db:"tags"         json:"tags"`

	// Event is the id of the video event this asset was published as or
	// mirrored from. Empty until one exists.
	Event   string    `db:"event"    json:"event,omitempty"`
	AddedAt time.Time `db:"added_at" json:"added_at"`
}

// Identifier is the d-tag value used for the asset's video event.
func (v *VideoAsset) Identifier() string {
	return v.Source + "-" + v.ExternalID
}

// HasHashes reports whether every present file has its digest computed.
func (v *VideoAsset) HasHashes() bool {
	if v.VideoSha256 == "" {
		return false
	}
	if v.InfoPath != "" && v.InfoSha256 == "" {
		return false
	}
	if v.ThumbPath != "" && v.ThumbSha256 == "" {
		return false
	}
	return true
}

// Vertical reports whether the video is taller than it is wide.
func (v *VideoAsset) Vertical() bool {
	return v.Height > v.Width
}
