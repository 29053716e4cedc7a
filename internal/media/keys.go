package media

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Layout describes the key-space conventions the pipeline reads and writes
// in the object store. All prefixes end with "/".
type Layout struct {
	OriginalsPrefix string
	CloakedPrefix   string
	LocksPrefix     string
	ProgressPrefix  string
	FramesPrefix    string
	FailedPrefix    string
}

// DefaultLayout returns the standard bucket layout.
func DefaultLayout() Layout {
	return Layout{
		OriginalsPrefix: "originals/",
		CloakedPrefix:   "cloaked/",
		LocksPrefix:     "locks/",
		ProgressPrefix:  "tempProgress/",
		FramesPrefix:    "tempFrames/",
		FailedPrefix:    "failed/",
	}
}

// Prefixes returns every prefix in the layout, used when initializing a
// bucket with placeholder objects.
func (l Layout) Prefixes() []string {
	return []string{
		l.OriginalsPrefix,
		l.CloakedPrefix,
		l.LocksPrefix,
		l.ProgressPrefix,
		l.FramesPrefix,
		l.FailedPrefix,
	}
}

var cloakedNamePattern = regexp.MustCompile(`^(?P<base>.+)_cloaked_(?P<level>low|mid|high)\.(png|mp4)$`)

// BaseName returns the item's file name without directory or extension.
func BaseName(key string) string {
	name := path.Base(key)
	return strings.TrimSuffix(name, path.Ext(name))
}

// relativeDir returns the directory of key below the originals prefix.
func (l Layout) relativeDir(originalKey string) string {
	rel := strings.TrimPrefix(originalKey, l.OriginalsPrefix)
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

// CloakedKey derives the output key for an original at a given level,
// mirroring the original's directory structure under the cloaked prefix.
func (l Layout) CloakedKey(originalKey string, level Level) string {
	kind, _ := KindForKey(originalKey)
	name := fmt.Sprintf("%s_cloaked_%s%s", BaseName(originalKey), level, OutputExt(kind))
	if dir := l.relativeDir(originalKey); dir != "" {
		return path.Join(l.CloakedPrefix+dir, name)
	}
	return l.CloakedPrefix + name
}

// ParseCloaked decomposes a key under the cloaked prefix into its relative
// directory, base name, and level. ok is false when the key does not follow
// the cloaked naming pattern.
func (l Layout) ParseCloaked(key string) (dir, base string, level Level, ok bool) {
	rel := strings.TrimPrefix(key, l.CloakedPrefix)
	dir = path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	m := cloakedNamePattern.FindStringSubmatch(path.Base(rel))
	if m == nil {
		return "", "", "", false
	}
	return dir, m[1], Level(m[2]), true
}

// OriginalDir returns the relative directory of an original key, for pairing
// with ParseCloaked results during bulk reconciliation.
func (l Layout) OriginalDir(originalKey string) string {
	return l.relativeDir(originalKey)
}

// LockKey names the advisory lock object for an item.
func (l Layout) LockKey(originalKey string) string {
	return l.LocksPrefix + path.Base(originalKey) + ".lock"
}

// ProgressKey names the video checkpoint object for an item.
func (l Layout) ProgressKey(originalKey string) string {
	return l.ProgressPrefix + BaseName(originalKey) + "_progress.json"
}

// FramesPrefixFor returns the temporary frame area prefix for an item.
func (l Layout) FramesPrefixFor(originalKey string) string {
	return l.FramesPrefix + BaseName(originalKey) + "_frames/"
}

// FrameKey names a single temporary frame object. Indexes are zero-padded so
// lexical listing order matches frame order.
func (l Layout) FrameKey(originalKey string, index int) string {
	return fmt.Sprintf("%sframe_%06d.png", l.FramesPrefixFor(originalKey), index)
}

// FailedKey names the permanent failure marker for an item.
func (l Layout) FailedKey(originalKey string) string {
	return l.FailedPrefix + BaseName(originalKey) + "_failed.json"
}
