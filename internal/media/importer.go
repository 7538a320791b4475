package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/pkg/models"
	"github.com/tidwall/gjson"
)

// strippedInfoFields are large downloader fields not worth keeping on disk.
var strippedInfoFields = []string{"thumbnails", "formats", "automatic_captions", "heatmap"}

// Files are the absolute paths of a freshly downloaded video and its sidecars.
// Info and Thumb may be empty.
type Files struct {
	Video string
	Info  string
	Thumb string
}

// Metadata describes a video independent of where its files live.
type Metadata struct {
	Source      string
	ExternalID  string
	ChannelID   string
	ChannelName string
	Title       string
	Description string
	Duration    int
	Published   time.Time
	Width       int
	Height      int
	Language    string
	AgeLimit    int
	Tags        []string
}

// ParseInfo reads the metadata fields of a downloader info file.
func ParseInfo(raw []byte) (Metadata, error) {
	if !gjson.ValidBytes(raw) {
		return Metadata{}, fmt.Errorf("info file is not valid JSON")
	}
	info := gjson.ParseBytes(raw)

	m := Metadata{
		Source:      strings.ToLower(firstString(info, "extractor_key", "extractor")),
		ExternalID:  info.Get("id").String(),
		ChannelID:   firstString(info, "channel_id", "uploader_id"),
		ChannelName: firstString(info, "channel", "uploader"),
		Title:       info.Get("title").String(),
		Description: info.Get("description").String(),
		Duration:    int(info.Get("duration").Float()),
		Width:       int(info.Get("width").Int()),
		Height:      int(info.Get("height").Int()),
		Language:    info.Get("language").String(),
		AgeLimit:    int(info.Get("age_limit").Int()),
	}
	for _, t := range info.Get("tags").Array() {
		m.Tags = append(m.Tags, t.String())
	}

	if ts := info.Get("timestamp"); ts.Exists() && ts.Int() > 0 {
		m.Published = time.Unix(ts.Int(), 0).UTC()
	} else if d := info.Get("upload_date").String(); d != "" {
		if t, err := time.Parse("20060102", d); err == nil {
			m.Published = t
		}
	}

	if m.ExternalID == "" {
		return Metadata{}, fmt.Errorf("info file has no id")
	}
	if m.Source == "" {
		m.Source = "web"
	}
	return m, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// Importer moves downloaded files into a media store and builds the asset
// describing them.
type Importer struct {
	stores []config.MediaStore
	target string
}

// NewImporter creates an Importer writing into the store with id target.
func NewImporter(stores []config.MediaStore, target string) *Importer {
	return &Importer{stores: stores, target: target}
}

// Import moves files into <store>/<source>/<channel>/<id>/ and returns the
// unsaved asset. Digests are not computed.
func (im *Importer) Import(files Files, meta Metadata) (*models.VideoAsset, error) {
	var root string
	for _, s := range im.stores {
		if s.ID == im.target {
			root = s.Path
		}
	}
	if root == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, im.target)
	}

	channel := meta.ChannelID
	if channel == "" {
		channel = "unknown"
	}
	folder := filepath.Join(safeSegment(meta.Source), safeSegment(channel), safeSegment(meta.ExternalID))
	base := safeSegment(meta.ExternalID)

	v := &models.VideoAsset{
		ID:          uuid.New(),
		Store:       im.target,
		Source:      meta.Source,
		ExternalID:  meta.ExternalID,
		ChannelID:   meta.ChannelID,
		ChannelName: meta.ChannelName,
		Title:       meta.Title,
		Description: meta.Description,
		Duration:    meta.Duration,
		Published:   meta.Published,
		Width:       meta.Width,
		Height:      meta.Height,
		Language:    meta.Language,
		AgeLimit:    meta.AgeLimit,
		Tags:        meta.Tags,
		AddedAt:     time.Now().UTC(),
	}

	stat, err := os.Stat(files.Video)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingFile, files.Video)
	}
	v.MediaSize = stat.Size()

	v.VideoPath = filepath.Join(folder, base+strings.ToLower(filepath.Ext(files.Video)))
	if err := MoveFile(files.Video, filepath.Join(root, v.VideoPath)); err != nil {
		return nil, err
	}

	if files.Info != "" {
		v.InfoPath = filepath.Join(folder, base+".info.json")
		if err := writeStrippedInfo(files.Info, filepath.Join(root, v.InfoPath)); err != nil {
			return nil, err
		}
	}

	if files.Thumb != "" {
		v.ThumbPath = filepath.Join(folder, base+strings.ToLower(filepath.Ext(files.Thumb)))
		if err := MoveFile(files.Thumb, filepath.Join(root, v.ThumbPath)); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// ReplaceSidecars swaps v's info and thumbnail files for new downloads.
func (im *Importer) ReplaceSidecars(v *models.VideoAsset, files Files) error {
	var root string
	for _, s := range im.stores {
		if s.ID == v.Store {
			root = s.Path
		}
	}
	if root == "" {
		return fmt.Errorf("%w: %q", ErrUnknownStore, v.Store)
	}

	folder := filepath.Dir(v.VideoPath)
	base := strings.TrimSuffix(filepath.Base(v.VideoPath), filepath.Ext(v.VideoPath))

	if files.Info != "" {
		v.InfoPath = filepath.Join(folder, base+".info.json")
		v.InfoSha256 = ""
		if err := writeStrippedInfo(files.Info, filepath.Join(root, v.InfoPath)); err != nil {
			return err
		}
	}
	if files.Thumb != "" {
		if v.ThumbPath != "" {
			_ = os.Remove(filepath.Join(root, v.ThumbPath))
		}
		v.ThumbPath = filepath.Join(folder, base+strings.ToLower(filepath.Ext(files.Thumb)))
		v.ThumbSha256 = ""
		if err := MoveFile(files.Thumb, filepath.Join(root, v.ThumbPath)); err != nil {
			return err
		}
	}
	return nil
}

// ComputeHashes fills in any missing digest of v's files.
func ComputeHashes(v *models.VideoAsset, stores []config.MediaStore) error {
	paths, err := Resolve(v, stores)
	if err != nil {
		return err
	}

	if v.VideoSha256 == "" {
		sum, size, err := SHA256File(paths.Video)
		if err != nil {
			return err
		}
		v.VideoSha256 = sum
		v.MediaSize = size
	}
	if paths.Info != "" && v.InfoSha256 == "" {
		sum, _, err := SHA256File(paths.Info)
		if err != nil {
			return err
		}
		v.InfoSha256 = sum
	}
	if paths.Thumb != "" && v.ThumbSha256 == "" {
		sum, _, err := SHA256File(paths.Thumb)
		if err != nil {
			return err
		}
		v.ThumbSha256 = sum
	}
	return nil
}

func writeStrippedInfo(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read info: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, k := range strippedInfoFields {
			delete(fields, k)
		}
		if out, err := json.MarshalIndent(fields, "", "  "); err == nil {
			raw = out
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return fmt.Errorf("write info: %w", err)
	}
	return os.Remove(src)
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
