package media

import (
	"path"
	"strings"
)

// Kind classifies a media item by how the pipeline processes it.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Level is a named protection intensity the transform can produce.
type Level string

const (
	LevelLow  Level = "low"
	LevelMid  Level = "mid"
	LevelHigh Level = "high"
)

// AllLevels lists the known protection levels in ascending intensity order.
var AllLevels = []Level{LevelLow, LevelMid, LevelHigh}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".bmp":  {},
	".webp": {},
}

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
}

// ParseLevel returns the Level matching value, or false for unknown names.
func ParseLevel(value string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(value))) {
	case LevelLow:
		return LevelLow, true
	case LevelMid:
		return LevelMid, true
	case LevelHigh:
		return LevelHigh, true
	default:
		return "", false
	}
}

// KindForKey derives the media kind from the object key's extension.
// The second return is false for unsupported extensions.
func KindForKey(key string) (Kind, bool) {
	ext := strings.ToLower(path.Ext(key))
	if _, ok := imageExtensions[ext]; ok {
		return KindImage, true
	}
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo, true
	}
	return "", false
}

// OutputExt returns the normalized extension for cloaked artifacts of a kind.
// Cloaked images are always PNG and cloaked videos always MP4, regardless of
// the original container.
func OutputExt(kind Kind) string {
	if kind == KindVideo {
		return ".mp4"
	}
	return ".png"
}

// Item is a single media object discovered under the originals prefix.
type Item struct {
	Key  string
	Kind Kind
}
