// Package whiteout classifies layer entry paths against the tar layer
// whiteout convention.
//
// A whiteout is a marker entry whose final path segment starts with ".wh.";
// it signals the deletion of the sibling named by the remainder of the
// segment. The special segment ".wh..wh..opq" marks its containing directory
// as opaque: contents inherited from earlier layers are discarded.
// Classification looks at the final path segment only - never at entry
// content or metadata.
package whiteout

import "strings"

const (
	// Prefix marks a deletion entry: "dir/.wh.name" deletes "dir/name".
	Prefix = ".wh."

	// OpaqueMarker marks the containing directory as opaque.
	OpaqueMarker = ".wh..wh..opq"
)

// Kind is the classification of an entry path.
type Kind int

const (
	// Normal is a regular entry with no whiteout meaning.
	Normal Kind = iota

	// Delete marks the removal of a sibling path.
	Delete

	// Opaque marks the containing directory as fully replaced.
	Opaque

	// Invalid is a malformed marker: the ".wh." prefix with no name after
	// it, which targets nothing.
	Invalid
)

// Classification is the result of classifying one entry path.
type Classification struct {
	Kind Kind

	// Target is the sibling path slated for removal (Delete only).
	Target string

	// Dir is the directory the opaque marker applies to (Opaque only).
	// Empty string means the tree root.
	Dir string
}

// Classify inspects the final segment of a slash-separated path and returns
// its whiteout classification. The path is expected to be normalized (no
// trailing slash); callers pass paths exactly as the merge engine sees them.
func Classify(path string) Classification {
	dir, base := splitPath(path)

	if base == OpaqueMarker {
		return Classification{Kind: Opaque, Dir: dir}
	}

	if strings.HasPrefix(base, Prefix) {
		name := strings.TrimPrefix(base, Prefix)
		if name == "" {
			return Classification{Kind: Invalid}
		}
		target := name
		if dir != "" {
			target = dir + "/" + name
		}
		return Classification{Kind: Delete, Target: target}
	}

	return Classification{Kind: Normal}
}

// IsMarker reports whether the path denotes any whiteout marker.
func IsMarker(path string) bool {
	_, base := splitPath(path)
	return strings.HasPrefix(base, Prefix)
}

// splitPath splits a slash path into (directory, basename). The directory is
// empty for a top-level name.
func splitPath(path string) (string, string) {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx], path[idx+1:]
	}
	return "", path
}
