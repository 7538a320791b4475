package media

import (
	"path/filepath"
	"strings"
)

const DefaultMimeType = "application/octet-stream"

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".ico":  "image/vnd.microsoft.icon",
	".heic": "image/heic",
	".avif": "image/avif",

	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".3g2":  "video/3gpp2",
	".m4v":  "video/x-m4v",

	".json": "application/json",
}

// preferredExt picks one extension for mime types with several.
var preferredExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/tiff": ".tiff",
	"video/mpeg": ".mpeg",
}

// MimeTypeByPath returns the mime type for the file extension of path.
func MimeTypeByPath(path string) string {
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return DefaultMimeType
}

// ExtensionForMime returns the file extension used for mimeType, or "" when unknown.
// Parameters such as "; charset=utf-8" are ignored.
func ExtensionForMime(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if ext, ok := preferredExt[mimeType]; ok {
		return ext
	}
	for ext, m := range mimeByExt {
		if m == mimeType {
			return ext
		}
	}
	return ""
}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	return strings.HasPrefix(MimeTypeByPath(path), "video/")
}

// IsImage reports whether path has a known image extension.
func IsImage(path string) bool {
	return strings.HasPrefix(MimeTypeByPath(path), "image/")
}

// IsInfo reports whether path looks like a downloader info file.
func IsInfo(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".json")
}
