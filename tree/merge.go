package tree

import (
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/bibin-skaria/imagetree/archive"
	"github.com/bibin-skaria/imagetree/internal/types"
	"github.com/bibin-skaria/imagetree/whiteout"
)

// EntrySource is one layer's lazy entry sequence. archive.EntryStream
// satisfies it; tests supply slices.
type EntrySource interface {
	Next() (*types.EntryRecord, error)
}

// Merger folds ordered layers into a single merged tree. Layers must be
// applied strictly in manifest order: opaque and deletion semantics are
// defined relative to everything merged so far. The Merger is the tree's
// single writer; the tree becomes read-only once Tree is called.
type Merger struct {
	root     *Node
	warnings []types.Warning
	logger   *logrus.Logger
}

// NewMerger returns a Merger with an empty tree. A nil logger falls back to
// the logrus standard logger.
func NewMerger(logger *logrus.Logger) *Merger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Merger{
		root:   newRoot(),
		logger: logger,
	}
}

// Fold applies every layer of the image in order and returns the merged
// tree. The context is checked at layer boundaries; on cancellation the
// partial tree is discarded and never exposed.
func (m *Merger) Fold(ctx context.Context, img *archive.Image) (*Tree, error) {
	for _, layer := range img.Layers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, err := img.OpenLayer(layer.Index)
		if err != nil {
			return nil, err
		}

		err = multierr.Append(m.ApplyLayer(layer, stream), stream.Close())
		if err != nil {
			return nil, err
		}

		m.logger.WithFields(logrus.Fields{
			"layer": layer.Index,
			"hash":  layer.Hash,
		}).Debug("Applied layer")
	}

	return m.Tree(), nil
}

// ApplyLayer folds one layer's entries into the tree, in stream order.
// Within a layer the later occurrence of a path wins; archives may contain
// redundant or corrective headers.
func (m *Merger) ApplyLayer(layer types.LayerRef, src EntrySource) error {
	for {
		rec, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		m.apply(layer, rec)
	}
}

// Tree returns the merged tree with the accumulated warnings. Ownership
// transfers to the caller; the Merger must not be used afterwards.
func (m *Merger) Tree() *Tree {
	return &Tree{root: m.root, warnings: m.warnings}
}

// apply dispatches a single entry record. Invalid paths are recorded as
// warnings and skipped; one crafted or buggy entry must not block the rest
// of the image.
func (m *Merger) apply(layer types.LayerRef, rec *types.EntryRecord) {
	segs, ok := splitEntryPath(rec.Path)
	if !ok {
		m.warn(layer, rec.Path, "path escapes archive root")
		return
	}
	if len(segs) == 0 {
		// Root directory header; nothing to record.
		return
	}

	switch c := whiteout.Classify(strings.Join(segs, "/")); c.Kind {
	case whiteout.Delete:
		targetSegs, ok := splitEntryPath(c.Target)
		if !ok || len(targetSegs) == 0 {
			m.warn(layer, rec.Path, "whiteout targets archive root")
			return
		}
		m.remove(targetSegs)

	case whiteout.Opaque:
		dirSegs, _ := splitEntryPath(c.Dir)
		m.clearInherited(dirSegs, layer.Index)

	case whiteout.Invalid:
		m.warn(layer, rec.Path, "malformed whiteout marker")

	default:
		m.put(segs, layer, rec)
	}
}

// put creates or overwrites the node at segs. A later layer wins in place;
// a type change discards the existing subtree. Missing parents are created
// as implicit directories, since archives may omit directory headers.
func (m *Merger) put(segs []string, layer types.LayerRef, rec *types.EntryRecord) {
	parent := m.ensureDirs(segs[:len(segs)-1], layer)
	name := segs[len(segs)-1]

	existing := parent.children[name]
	if existing != nil && existing.kind == types.KindDirectory && rec.Kind == types.KindDirectory {
		// Directory redefined by a later layer: refresh the metadata
		// snapshot, keep the children.
		existing.mode = rec.Mode
		existing.uid = rec.UID
		existing.gid = rec.GID
		existing.modTime = rec.ModTime
		existing.layer = layer
		return
	}

	node := &Node{
		name:     name,
		kind:     rec.Kind,
		mode:     rec.Mode,
		uid:      rec.UID,
		gid:      rec.GID,
		size:     rec.Size,
		modTime:  rec.ModTime,
		dev:      rec.Dev,
		ino:      rec.Ino,
		layer:    layer,
	}

	switch rec.Kind {
	case types.KindDirectory:
		node.children = make(map[string]*Node)
	case types.KindSymlink:
		node.linkname = rec.Linkname
	case types.KindHardlink:
		if refSegs, ok := splitEntryPath(rec.Linkname); ok {
			node.linkRef = strings.Join(refSegs, "/")
		}
	}

	parent.children[name] = node
}

// remove deletes the node at segs, subtree included. Deleting an absent
// path is a no-op: whiteouts may be emitted defensively.
func (m *Merger) remove(segs []string) {
	parent := m.lookupDir(segs[:len(segs)-1])
	if parent == nil {
		return
	}
	delete(parent.children, segs[len(segs)-1])
}

// clearInherited applies an opaque marker to the directory at segs: content
// inherited from strictly earlier layers is dropped, content the current
// layer put anywhere below the directory stays, as do the directories
// leading to it, regardless of where the marker sits in the stream.
func (m *Merger) clearInherited(segs []string, layerIndex int) {
	dir := m.lookupDir(segs)
	if dir == nil {
		return
	}
	pruneInherited(dir, layerIndex)
}

// pruneInherited removes every node below dir whose origin layer precedes
// layerIndex. An inherited directory survives only while it still shelters
// current-layer content after its own subtree is pruned.
func pruneInherited(dir *Node, layerIndex int) {
	for name, child := range dir.children {
		if child.layer.Index >= layerIndex {
			continue
		}
		if child.kind == types.KindDirectory {
			pruneInherited(child, layerIndex)
			if len(child.children) > 0 {
				continue
			}
		}
		delete(dir.children, name)
	}
}

// lookupDir walks segs from the root and returns the directory there, or
// nil when any segment is missing or not a directory.
func (m *Merger) lookupDir(segs []string) *Node {
	node := m.root
	for _, seg := range segs {
		child := node.children[seg]
		if child == nil || child.kind != types.KindDirectory {
			return nil
		}
		node = child
	}
	return node
}

// ensureDirs walks segs from the root, creating implicit directories for
// missing segments. A non-directory in the way is replaced: a layer may
// legally turn a file into a directory.
func (m *Merger) ensureDirs(segs []string, layer types.LayerRef) *Node {
	node := m.root
	for _, seg := range segs {
		child := node.children[seg]
		if child == nil || child.kind != types.KindDirectory {
			child = newDir(seg, layer)
			node.children[seg] = child
		}
		node = child
	}
	return node
}

func (m *Merger) warn(layer types.LayerRef, path, reason string) {
	m.warnings = append(m.warnings, types.Warning{
		Path:   path,
		Reason: reason,
		Layer:  layer,
	})
	m.logger.WithFields(logrus.Fields{
		"path":   path,
		"reason": reason,
		"layer":  layer.Index,
	}).Warn("Skipping entry")
}

// splitEntryPath normalizes a tar entry path into clean segments. Leading
// "./" and "/" and empty or "." segments are dropped; any ".." segment
// makes the path invalid, since it could escape the tree root.
func splitEntryPath(p string) ([]string, bool) {
	segs := make([]string, 0, 8)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, false
		}
		segs = append(segs, seg)
	}
	return segs, true
}
