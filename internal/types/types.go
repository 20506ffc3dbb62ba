package types

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EntryKind classifies a decoded tar entry.
type EntryKind string

const (
	KindRegular   EntryKind = "regular"
	KindDirectory EntryKind = "directory"
	KindSymlink   EntryKind = "symlink"
	KindHardlink  EntryKind = "hardlink"
	KindOther     EntryKind = "other" // devices, FIFOs, sockets
)

// LayerRef identifies one layer of an image and its position in the
// application order. Index 0 is the base layer.
type LayerRef struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Hash  string `json:"hash,omitempty"` // abbreviated digest for display
}

func (l LayerRef) String() string {
	if l.Hash != "" {
		return fmt.Sprintf("layer %d (%s)", l.Index, l.Hash)
	}
	return fmt.Sprintf("layer %d", l.Index)
}

// AbbreviateLayerName derives a short display hash from an archive-internal
// layer name, e.g. "abc123def.../layer.tar" -> "abc123d" or
// "blobs/sha256/deadbeef..." -> "deadbee".
func AbbreviateLayerName(name string, length int) string {
	trimmed := strings.TrimSuffix(name, "/layer.tar")
	trimmed = strings.TrimSuffix(trimmed, ".tar.gz")
	trimmed = strings.TrimSuffix(trimmed, ".tar")

	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimPrefix(trimmed, "sha256:")

	if len(trimmed) > length {
		return trimmed[:length]
	}
	return trimmed
}

// ContentLocator addresses a regular file's bytes inside the decompressed
// layer stream without copying them. Offset is measured from the start of
// the decompressed stream.
type ContentLocator struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// EntryRecord is one decoded tar header from a layer. Records are immutable
// once produced by the entry stream; the merge engine consumes each record
// within a single fold step and never retains it.
type EntryRecord struct {
	Path     string
	Kind     EntryKind
	Mode     os.FileMode // permission bits only
	UID      int
	GID      int
	Size     int64 // meaningful for regular files only
	ModTime  time.Time
	Linkname string // symlink target or hard-link reference path
	Dev      uint64 // from PAX SCHILY.dev when present, else 0
	Ino      uint64 // from PAX SCHILY.ino when present, else 0
	Content  ContentLocator
}

// Warning records a recoverable per-entry problem. The merge continues and
// the caller decides whether to surface warnings to the user.
type Warning struct {
	Path   string   `json:"path"`
	Reason string   `json:"reason"`
	Layer  LayerRef `json:"layer"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Path, w.Reason, w.Layer)
}
