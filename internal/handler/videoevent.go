package handler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/kiranshivaraju/vidvault/internal/media"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/nbd-wtf/go-nostr"
)

const clientTag = "vidvault"

// BuildVideoEvent returns the unsigned video event for v. videoURL is where
// the video can be fetched, thumbURLs where its thumbnail can.
func BuildVideoEvent(v *models.VideoAsset, videoURL string, thumbURLs []string) *nostr.Event {
	kind := dvm.KindHorizontalVideo
	if v.Vertical() {
		kind = dvm.KindVerticalVideo
	}
	mime := media.MimeTypeByPath(v.VideoPath)

	imeta := nostr.Tag{"imeta", fmt.Sprintf("dim %dx%d", v.Width, v.Height)}
	if videoURL != "" {
		imeta = append(imeta, "url "+videoURL)
	}
	imeta = append(imeta, "x "+v.VideoSha256, "m "+mime)
	for _, u := range thumbURLs {
		imeta = append(imeta, "image "+u)
	}

	tags := nostr.Tags{{"d", v.Identifier()}}
	if videoURL != "" {
		tags = append(tags, nostr.Tag{"url", videoURL})
	}
	tags = append(tags,
		nostr.Tag{"x", v.VideoSha256},
		nostr.Tag{"title", v.Title},
		nostr.Tag{"summary", v.Description},
		nostr.Tag{"alt", v.Description},
		nostr.Tag{"published_at", strconv.FormatInt(v.Published.Unix(), 10)},
		nostr.Tag{"client", clientTag},
		nostr.Tag{"m", mime},
		nostr.Tag{"size", strconv.FormatInt(v.MediaSize, 10)},
		nostr.Tag{"duration", strconv.Itoa(v.Duration)},
		nostr.Tag{"c", v.ChannelName, "author"},
		nostr.Tag{"c", v.Source, "source"},
		imeta,
	)
	if u := OriginalURL(v); u != "" {
		tags = append(tags, nostr.Tag{"r", u})
	}
	for _, t := range v.Tags {
		tags = append(tags, nostr.Tag{"t", t})
	}
	if v.Language != "" {
		tags = append(tags, nostr.Tag{"l", v.Language, "ISO-639-1"})
	}
	for _, u := range thumbURLs {
		tags = append(tags, nostr.Tag{"thumb", u}, nostr.Tag{"image", u})
	}
	if v.InfoSha256 != "" {
		tags = append(tags, nostr.Tag{"info", v.InfoSha256})
	}
	if v.AgeLimit >= 18 {
		tags = append(tags, nostr.Tag{"content-warning", "NSFW adult content"})
	}

	return &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Content:   v.Title,
		Tags:      tags,
	}
}

// OriginalURL returns the page the video was downloaded from, when the
// source is known.
func OriginalURL(v *models.VideoAsset) string {
	switch v.Source {
	case "youtube":
		return "https://www.youtube.com/watch?v=" + v.ExternalID
	case "tiktok":
		return fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", v.ChannelName, v.ExternalID)
	}
	return ""
}

// VideoEventHashes are the blob hashes a video event refers to.
type VideoEventHashes struct {
	Video string
	Thumb string
	Info  string
}

var sha256Pattern = regexp.MustCompile(`[0-9a-f]{64}`)

// HashesFromEvent reads the video, thumbnail and info hashes of a video
// event. The thumbnail hash is taken from the image URL.
func HashesFromEvent(evt *nostr.Event) VideoEventHashes {
	var h VideoEventHashes
	if tag := evt.Tags.Find("x"); tag != nil {
		h.Video = strings.ToLower(tag[1])
	}
	if tag := evt.Tags.Find("info"); tag != nil {
		h.Info = strings.ToLower(tag[1])
	}
	for _, key := range []string{"image", "thumb"} {
		if tag := evt.Tags.Find(key); tag != nil {
			if m := sha256Pattern.FindString(strings.ToLower(tag[1])); m != "" {
				h.Thumb = m
				break
			}
		}
	}
	if h.Video == "" {
		h.Video, h.Thumb = imetaHashes(evt, h.Thumb)
	}
	return h
}

func imetaHashes(evt *nostr.Event, thumb string) (string, string) {
	var video string
	for tag := range evt.Tags.FindAll("imeta") {
		for _, field := range tag[1:] {
			key, val, _ := strings.Cut(field, " ")
			switch key {
			case "x":
				if video == "" {
					video = strings.ToLower(val)
				}
			case "image":
				if thumb == "" {
					thumb = sha256Pattern.FindString(strings.ToLower(val))
				}
			}
		}
	}
	return video, thumb
}

// serverFromBlobURL returns the server part of a blob URL ending in hash.
func serverFromBlobURL(u, hash string) string {
	i := strings.LastIndex(strings.ToLower(u), hash)
	if i <= 0 || !strings.HasPrefix(u, "http") {
		return ""
	}
	return strings.TrimRight(u[:i], "/")
}
