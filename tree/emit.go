package tree

// Item is one element of the emitted sequence: a full slash-joined path, the
// read-only node at that path, and the node's link group when it has one.
type Item struct {
	Path string
	Node *Node
	Link *LinkInfo
}

// WalkOptions configure the emitted ordering. DirsFirst is a pure
// presentation choice owned by the consumer; the default interleaves
// directories and files lexicographically.
type WalkOptions struct {
	DirsFirst bool
}

// Walk emits the merged tree depth-first, children ordered per
// SortedChildren, calling fn for every node below the root. The traversal
// is restartable: Walk may be called any number of times. fn returning a
// non-nil error stops the walk and returns that error.
func (t *Tree) Walk(opts WalkOptions, links LinkGroups, fn func(Item) error) error {
	return walkNode(t.root, "", opts, links, fn)
}

func walkNode(n *Node, prefix string, opts WalkOptions, links LinkGroups, fn func(Item) error) error {
	for _, child := range SortedChildren(n, opts.DirsFirst) {
		path := join(prefix, child.name)
		if err := fn(Item{Path: path, Node: child, Link: links.Lookup(path)}); err != nil {
			return err
		}
		if child.IsDir() {
			if err := walkNode(child, path, opts, links, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
