package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/vidvault/internal/config"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

var (
	ErrUnknownStore = errors.New("media store not configured")
	ErrMissingFile  = errors.New("media file missing")
)

// Paths are the absolute locations of an asset's files. Info and Thumb are
// empty when the asset has no such file.
type Paths struct {
	Video string
	Info  string
	Thumb string
}

// Resolve returns the absolute paths of v's files. It fails when v's store is
// not configured or the video file does not exist.
func Resolve(v *models.VideoAsset, stores []config.MediaStore) (Paths, error) {
	var root string
	for _, s := range stores {
		if s.ID == v.Store {
			root = s.Path
			break
		}
	}
	if root == "" {
		return Paths{}, fmt.Errorf("%w: %q", ErrUnknownStore, v.Store)
	}

	p := Paths{Video: filepath.Join(root, v.VideoPath)}
	if v.InfoPath != "" {
		p.Info = filepath.Join(root, v.InfoPath)
	}
	if v.ThumbPath != "" {
		p.Thumb = filepath.Join(root, v.ThumbPath)
	}

	if _, err := os.Stat(p.Video); err != nil {
		return Paths{}, fmt.Errorf("%w: %s", ErrMissingFile, p.Video)
	}
	return p, nil
}
