// Package render draws a merged image tree as colored ASCII art. It is the
// external collaborator of the merge pipeline: it consumes the emitter's
// ordered read-only view and owns every presentation choice (colors, icons,
// directories-first, layer separators).
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bibin-skaria/imagetree/internal/types"
	"github.com/bibin-skaria/imagetree/tree"
)

// IconStyle selects the icon set drawn before every name.
type IconStyle string

const (
	IconsNone  IconStyle = "none"
	IconsEmoji IconStyle = "emoji"
	IconsNerd  IconStyle = "nerd"
)

// ParseIconStyle maps a flag value to an icon style, defaulting to none.
func ParseIconStyle(s string) IconStyle {
	switch s {
	case string(IconsEmoji):
		return IconsEmoji
	case string(IconsNerd):
		return IconsNerd
	default:
		return IconsNone
	}
}

func (s IconStyle) fileIcon() string {
	switch s {
	case IconsEmoji:
		return "\U0001f4c4 "
	case IconsNerd:
		return " "
	default:
		return ""
	}
}

func (s IconStyle) dirIcon() string {
	switch s {
	case IconsEmoji:
		return "\U0001f4c1 "
	case IconsNerd:
		return " "
	default:
		return ""
	}
}

// Options configure one rendering pass.
type Options struct {
	Long       bool // permissions and uid:gid columns
	ShowLayers bool // separator rules when the origin layer changes
	UseColor   bool
	DirsFirst  bool
	Icons      IconStyle
	Theme      Theme
}

// Renderer writes the tree to a single destination. It is not safe for
// concurrent use.
type Renderer struct {
	w    io.Writer
	opts Options

	directory lipgloss.Style
	symlink   lipgloss.Style
	execStyle lipgloss.Style
	hardlink  lipgloss.Style
	perms     lipgloss.Style
	owner     lipgloss.Style
	treeLines lipgloss.Style
	layerSep  lipgloss.Style

	ownerWidth int
	lastLayer  string
	err        error
}

// NewRenderer builds a renderer for the given destination and options.
func NewRenderer(w io.Writer, opts Options) *Renderer {
	style := func(hex string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}
	return &Renderer{
		w:         w,
		opts:      opts,
		directory: style(opts.Theme.Directory),
		symlink:   style(opts.Theme.Symlink),
		execStyle: style(opts.Theme.Executable),
		hardlink:  style(opts.Theme.Hardlink),
		perms:     style(opts.Theme.Permissions),
		owner:     style(opts.Theme.Ownership),
		treeLines: style(opts.Theme.TreeLines),
		layerSep:  style(opts.Theme.LayerSeparator),
	}
}

// Render draws the whole tree. Link group info supplies the "=> primary"
// annotation on hard-link aliases; pass nil when links were not resolved.
func (r *Renderer) Render(t *tree.Tree, links tree.LinkGroups) error {
	r.ownerWidth = 0
	r.lastLayer = ""
	r.err = nil

	if r.opts.Long {
		t.Walk(tree.WalkOptions{DirsFirst: r.opts.DirsFirst}, nil, func(item tree.Item) error {
			if w := len(fmt.Sprintf("%d:%d", item.Node.UID(), item.Node.GID())); w > r.ownerWidth {
				r.ownerWidth = w
			}
			return nil
		})
	}

	r.renderChildren(t.Root(), "", "", links)
	return r.err
}

func (r *Renderer) renderChildren(n *tree.Node, path, prefix string, links tree.LinkGroups) {
	children := tree.SortedChildren(n, r.opts.DirsFirst)
	for i, child := range children {
		if r.err != nil {
			return
		}
		isLast := i+1 == len(children)
		childPath := child.Name()
		if path != "" {
			childPath = path + "/" + child.Name()
		}

		if r.opts.ShowLayers {
			r.maybeSeparator(child.Layer())
		}

		var line strings.Builder

		if r.opts.Long {
			ownerStr := fmt.Sprintf("%d:%d", child.UID(), child.GID())
			line.WriteString(r.paint(r.perms, permString(child)))
			line.WriteString(" ")
			line.WriteString(r.paint(r.owner, fmt.Sprintf("%*s", r.ownerWidth, ownerStr)))
			line.WriteString(" ")
		}

		branch := "├── "
		if isLast {
			branch = "└── "
		}
		line.WriteString(r.paint(r.treeLines, prefix+branch))

		style, icon := r.decorate(child)
		line.WriteString(r.paint(style, icon+child.Name()))

		if target := child.SymlinkTarget(); target != "" {
			line.WriteString(" -> ")
			line.WriteString(r.paint(r.symlink, target))
		}
		if primary := r.linkAnnotation(childPath, child, links); primary != "" {
			line.WriteString(" => ")
			line.WriteString(r.paint(r.hardlink, primary))
		}

		r.writeln(line.String())

		if child.IsDir() && child.NumChildren() > 0 {
			childPrefix := prefix + "    "
			if !isLast {
				childPrefix = prefix + "│   "
			}
			r.renderChildren(child, childPath, childPrefix, links)
		}
	}
}

// linkAnnotation returns the path to show after "=>" for hard links: the
// group primary when the node is an alias, or the raw reference when the
// referenced path never made it into the tree.
func (r *Renderer) linkAnnotation(path string, n *tree.Node, links tree.LinkGroups) string {
	if info := links.Lookup(path); info != nil && info.Primary != path {
		return info.Primary
	}
	if ref := n.HardlinkRef(); ref != "" && links.Lookup(path) == nil {
		return ref
	}
	return ""
}

// decorate picks the name style and icon for a node.
func (r *Renderer) decorate(n *tree.Node) (lipgloss.Style, string) {
	switch {
	case n.Kind() == types.KindSymlink:
		return r.symlink, r.opts.Icons.fileIcon()
	case n.IsDir():
		return r.directory, r.opts.Icons.dirIcon()
	case n.Mode()&0o111 != 0:
		return r.execStyle, r.opts.Icons.fileIcon()
	default:
		return lipgloss.NewStyle(), r.opts.Icons.fileIcon()
	}
}

const separatorWidth = 60

// maybeSeparator draws a labeled rule whenever the origin layer changes
// along the emission order.
func (r *Renderer) maybeSeparator(layer types.LayerRef) {
	if layer.Hash == "" || layer.Hash == r.lastLayer {
		return
	}
	r.lastLayer = layer.Hash

	label := fmt.Sprintf(" Layer %s ", layer.Hash)
	padding := 0
	if separatorWidth > len(label) {
		padding = (separatorWidth - len(label)) / 2
	}
	right := 0
	if separatorWidth > len(label)+padding {
		right = separatorWidth - len(label) - padding
	}

	r.writeln("")
	rule := strings.Repeat("─", padding) + label + strings.Repeat("─", right)
	r.writeln(r.paint(r.layerSep, rule))
}

func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.opts.UseColor || s == "" {
		return s
	}
	return style.Render(s)
}

func (r *Renderer) writeln(s string) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintln(r.w, s)
}

// permString formats mode bits the way ls does, with the kind in the first
// column.
func permString(n *tree.Node) string {
	kind := byte('-')
	switch {
	case n.IsDir():
		kind = 'd'
	case n.Kind() == types.KindSymlink:
		kind = 'l'
	}

	bits := []byte("rwxrwxrwx")
	mode := n.Mode()
	var b strings.Builder
	b.WriteByte(kind)
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b.WriteByte(bits[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
