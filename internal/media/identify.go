package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoVideo is returned when a download directory holds no video file.
var ErrNoVideo = errors.New("no video file found")

var (
	infoExts  = []string{".info.json", ".json"}
	thumbExts = []string{".webp", ".jpg", ".jpeg", ".png"}
)

// Identify finds the video, info and thumbnail files in dir. Sidecars are
// matched by the video's base name first and otherwise by extension, as long
// as exactly one file qualifies. With allowMissingVideo a directory without
// video is accepted.
func Identify(dir string, allowMissingVideo bool) (Files, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Files{}, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".part") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var files Files
	var base string
	for _, name := range names {
		if IsVideo(name) {
			files.Video = filepath.Join(dir, name)
			base = strings.TrimSuffix(name, filepath.Ext(name))
			break
		}
	}
	if files.Video == "" && !allowMissingVideo {
		return Files{}, fmt.Errorf("%w in %s", ErrNoVideo, dir)
	}

	if name := findSidecar(names, base, infoExts); name != "" {
		files.Info = filepath.Join(dir, name)
	}
	if name := findSidecar(names, base, thumbExts); name != "" {
		files.Thumb = filepath.Join(dir, name)
	}
	return files, nil
}

func findSidecar(names []string, base string, exts []string) string {
	if base != "" {
		for _, ext := range exts {
			for _, name := range names {
				if name == base+ext {
					return name
				}
			}
		}
	}

	var match string
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, ext := range exts {
			if strings.HasSuffix(lower, ext) {
				if match != "" && match != name {
					return ""
				}
				match = name
				break
			}
		}
	}
	return match
}
