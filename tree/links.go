package tree

import (
	"fmt"

	"github.com/bibin-skaria/imagetree/internal/types"
)

// LinkInfo describes one group of paths denoting a single underlying file
// instance. Exactly one member is the primary: the member that sorts first
// under the emitter's ordering. The info value is shared by every member.
type LinkInfo struct {
	Primary string
	Aliases []string
}

// LinkGroups maps each member path of every link group to its group's info.
// It is a read-only relation computed once, after the final layer is folded;
// it never affects tree ownership.
type LinkGroups map[string]*LinkInfo

// Lookup returns the group info for a path, or nil when the path belongs to
// no group.
func (g LinkGroups) Lookup(path string) *LinkInfo {
	return g[path]
}

// ResolveLinks scans the final merged tree and groups paths that denote one
// file instance: entries that reported the same (device, inode) pair, and
// hard-link entries together with the path they reference. Symlinks never
// participate; their targets stay uninterpreted.
//
// A path can carry several identities at once - its own path (so others may
// reference it), the path it references, and a (device, inode) pair. All of
// them are unioned, so chains of references and mixed path/inode evidence
// collapse into a single group.
func ResolveLinks(t *Tree) LinkGroups {
	merge := newIdentitySets()

	// paths in emission order; the first member of a group is its primary.
	var paths []string
	pathKey := make(map[string]string)

	var walk func(prefix string, n *Node)
	walk = func(prefix string, n *Node) {
		for _, child := range SortedChildren(n, false) {
			path := join(prefix, child.name)

			if !child.IsDir() && child.kind != types.KindSymlink {
				own := "path:" + path
				if ref := child.HardlinkRef(); ref != "" {
					merge.union(own, "path:"+ref)
				}
				if child.ino != 0 {
					merge.union(own, fmt.Sprintf("ino:%d:%d", child.dev, child.ino))
				}
				paths = append(paths, path)
				pathKey[path] = own
			}

			if child.IsDir() {
				walk(path, child)
			}
		}
	}
	walk("", t.root)

	members := make(map[string][]string)
	order := make([]string, 0)
	for _, path := range paths {
		root := merge.find(pathKey[path])
		if len(members[root]) == 0 {
			order = append(order, root)
		}
		members[root] = append(members[root], path)
	}

	groups := make(LinkGroups)
	for _, key := range order {
		paths := members[key]
		if len(paths) < 2 {
			continue
		}
		info := &LinkInfo{
			Primary: paths[0],
			Aliases: paths[1:],
		}
		for _, p := range paths {
			groups[p] = info
		}
	}
	return groups
}

// identitySets is a union-find over identity keys.
type identitySets struct {
	parent map[string]string
}

func newIdentitySets() *identitySets {
	return &identitySets{parent: make(map[string]string)}
}

func (s *identitySets) find(key string) string {
	root := key
	for {
		next, ok := s.parent[root]
		if !ok || next == root {
			break
		}
		root = next
	}
	// Path compression.
	for key != root {
		next := s.parent[key]
		s.parent[key] = root
		key = next
	}
	return root
}

func (s *identitySets) union(a, b string) {
	ra, rb := s.find(a), s.find(b)
	if ra != rb {
		s.parent[ra] = rb
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
