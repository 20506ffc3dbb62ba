// Package tree holds the merged filesystem view of an image: the tree data
// structure, the merge engine that folds layers into it, the hard-link
// identity resolver, and the ordered emitter consumed by renderers.
package tree

import (
	"os"
	"sort"
	"time"

	"github.com/bibin-skaria/imagetree/internal/types"
)

// Node is one path's current state in the merged tree. Nodes are mutated in
// place by the merge engine while folding and are read-only afterwards; the
// emitter and renderers only see the accessor methods.
type Node struct {
	name     string
	kind     types.EntryKind
	mode     os.FileMode
	uid      int
	gid      int
	size     int64
	modTime  time.Time
	linkname string // symlink target, stored verbatim, never resolved
	linkRef  string // hard-link reference path, normalized
	dev      uint64
	ino      uint64
	layer    types.LayerRef
	children map[string]*Node
}

// newRoot returns an empty directory root.
func newRoot() *Node {
	return &Node{
		kind:     types.KindDirectory,
		mode:     0o755,
		children: make(map[string]*Node),
	}
}

// newDir returns an implicit directory created for a missing parent path.
func newDir(name string, layer types.LayerRef) *Node {
	return &Node{
		name:     name,
		kind:     types.KindDirectory,
		mode:     0o755,
		layer:    layer,
		children: make(map[string]*Node),
	}
}

// Name returns the node's final path segment.
func (n *Node) Name() string { return n.name }

// Kind returns the node's entry kind.
func (n *Node) Kind() types.EntryKind { return n.kind }

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.kind == types.KindDirectory }

// Mode returns the permission bits.
func (n *Node) Mode() os.FileMode { return n.mode }

// UID returns the owning user id.
func (n *Node) UID() int { return n.uid }

// GID returns the owning group id.
func (n *Node) GID() int { return n.gid }

// Size returns the content size in bytes; meaningful for regular files only.
func (n *Node) Size() int64 { return n.size }

// ModTime returns the modification time snapshot.
func (n *Node) ModTime() time.Time { return n.modTime }

// SymlinkTarget returns the raw symlink target, or "" for non-symlinks. The
// target is never resolved against the tree; a dangling target is valid.
func (n *Node) SymlinkTarget() string {
	if n.kind != types.KindSymlink {
		return ""
	}
	return n.linkname
}

// HardlinkRef returns the normalized hard-link reference path, or "" when
// the node is not a hard link.
func (n *Node) HardlinkRef() string {
	if n.kind != types.KindHardlink {
		return ""
	}
	return n.linkRef
}

// Layer returns the layer that most recently defined this node.
func (n *Node) Layer() types.LayerRef { return n.layer }

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// NumChildren returns the number of direct children.
func (n *Node) NumChildren() int { return len(n.children) }

// SortedChildren returns the node's children in emission order:
// lexicographic by name, with directories hoisted to the front when
// dirsFirst is set. This ordering is the single source of truth shared by
// the emitter and the identity resolver.
func SortedChildren(n *Node, dirsFirst bool) []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, child := range n.children {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool {
		if dirsFirst && out[i].IsDir() != out[j].IsDir() {
			return out[i].IsDir()
		}
		return out[i].name < out[j].name
	})
	return out
}

// Tree is the merged filesystem view plus the warnings accumulated while
// folding. It is handed out read-only once the merge completes.
type Tree struct {
	root     *Node
	warnings []types.Warning
}

// Root returns the tree root.
func (t *Tree) Root() *Node { return t.root }

// Warnings returns the recoverable problems recorded during the merge, in
// the order they were encountered.
func (t *Tree) Warnings() []types.Warning {
	out := make([]types.Warning, len(t.warnings))
	copy(out, t.warnings)
	return out
}
