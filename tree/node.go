// Package tree implements the OSCQuery method tree: a hierarchical,
// path-addressed model of OSC nodes with typed arguments, plus its wire JSON
// shape. The tree itself is not synchronized; the owning server guards it
// with a single reader-writer lock.
package tree

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/osc"
)

// Access is the read/write policy of a node.
type Access int

// Access levels. AccessNone marks pure containers.
const (
	AccessNone      Access = 0
	AccessReadOnly  Access = 1
	AccessWriteOnly Access = 2
	AccessReadWrite Access = 3
)

// Readable reports whether values may be read through this access level.
func (a Access) Readable() bool {
	return a == AccessReadOnly || a == AccessReadWrite
}

// Writable reports whether values may be written through this access level.
func (a Access) Writable() bool {
	return a == AccessWriteOnly || a == AccessReadWrite
}

// Opts declares the attribute set of a node. Nil pointer fields are unset;
// SetOpts with a zero Opts clears the node to a pure container. A non-nil
// Arguments slice marks the node as a method.
type Opts struct {
	Description *string
	Access      *Access
	Tags        []string
	Critical    *bool
	Arguments   []osc.Argument
}

// Node is one element of the OSC address space. The root has an empty name
// and no parent; every other node is owned by its parent's children map and
// keeps a back-reference for path reconstruction and pruning.
type Node struct {
	name     string
	parent   *Node
	children map[string]*Node
	opts     Opts
}

// NewRoot creates an empty root node.
func NewRoot() *Node {
	return &Node{children: make(map[string]*Node)}
}

// Name returns the node's path segment; empty at the root.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent node, nil at the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Opts returns the node's declared attributes.
func (n *Node) Opts() Opts {
	return n.opts
}

// Arguments returns the argument slots; nil for containers.
func (n *Node) Arguments() []osc.Argument {
	return n.opts.Arguments
}

// IsMethod reports whether the node carries argument descriptors.
func (n *Node) IsMethod() bool {
	return n.opts.Arguments != nil
}

// Access returns the declared access level; AccessNone when unset.
func (n *Node) Access() Access {
	if n.opts.Access == nil {
		return AccessNone
	}
	return *n.opts.Access
}

// FullPath reconstructs the node's address from its ancestry. The root path
// is "/".
func (n *Node) FullPath() string {
	if n.parent == nil {
		return "/"
	}

	var segs []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segs = append(segs, cur.name)
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String()
}

// SplitPath splits an OSC address into segments, skipping empty ones.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// HasChild reports whether a direct child with the segment name exists.
func (n *Node) HasChild(seg string) bool {
	_, ok := n.children[seg]
	return ok
}

// GetChild returns the direct child with the segment name.
func (n *Node) GetChild(seg string) (*Node, error) {
	child, ok := n.children[seg]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNoChild, "Node", "GetChild",
			fmt.Sprintf("segment %q under %s", seg, n.FullPath()))
	}
	return child, nil
}

// GetOrCreateChild returns the existing child or materializes an empty
// container with that name.
func (n *Node) GetOrCreateChild(seg string) *Node {
	if child, ok := n.children[seg]; ok {
		return child
	}
	child := &Node{
		name:     seg,
		parent:   n,
		children: make(map[string]*Node),
	}
	n.children[seg] = child
	return child
}

// RemoveChild detaches the named child. Absent children are ignored.
func (n *Node) RemoveChild(seg string) {
	delete(n.children, seg)
}

// ChildNames returns the child segment names in sorted order. Insertion
// order is not observable.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePath walks from this node along the given address. Empty segments
// are skipped; "/" resolves to the node itself.
func (n *Node) ResolvePath(path string) (*Node, error) {
	cur := n
	for _, seg := range SplitPath(path) {
		child, ok := cur.children[seg]
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrUnknownPath, "Node", "ResolvePath", path)
		}
		cur = child
	}
	return cur, nil
}

// SetOpts replaces the node's declared attribute set. A zero Opts clears the
// node to a pure container.
func (n *Node) SetOpts(opts Opts) {
	n.opts = opts
}

// SetValue assigns the value slot of the argument at index i.
func (n *Node) SetValue(i int, v any) error {
	if i < 0 || i >= len(n.opts.Arguments) {
		return errors.WrapInvalid(errors.ErrInvalidIndex, "Node", "SetValue",
			fmt.Sprintf("index %d of %d arguments at %s", i, len(n.opts.Arguments), n.FullPath()))
	}
	n.opts.Arguments[i].Value = v
	return nil
}

// UnsetValue clears the value slot of the argument at index i.
func (n *Node) UnsetValue(i int) error {
	if i < 0 || i >= len(n.opts.Arguments) {
		return errors.WrapInvalid(errors.ErrInvalidIndex, "Node", "UnsetValue",
			fmt.Sprintf("index %d of %d arguments at %s", i, len(n.opts.Arguments), n.FullPath()))
	}
	n.opts.Arguments[i].Value = nil
	return nil
}

// IsEmpty reports whether the node is a bare container: no declared access
// (or AccessNone), no arguments, no children, and no other attributes.
func (n *Node) IsEmpty() bool {
	if len(n.children) > 0 {
		return false
	}
	if n.opts.Arguments != nil {
		return false
	}
	if n.opts.Access != nil && *n.opts.Access != AccessNone {
		return false
	}
	return n.opts.Description == nil &&
		len(n.opts.Tags) == 0 &&
		n.opts.Critical == nil
}

// AddMethod creates or re-declares the node at path with the given
// attributes, materializing missing intermediate segments as empty
// containers. The affected node is returned.
func (n *Node) AddMethod(path string, opts Opts) *Node {
	cur := n
	for _, seg := range SplitPath(path) {
		cur = cur.GetOrCreateChild(seg)
	}
	cur.SetOpts(opts)
	return cur
}

// RemoveMethod clears the attributes of the node at path, then walks toward
// the root deleting every node that became empty, stopping at the first
// non-empty ancestor. It returns the affected paths: the target first, then
// each pruned ancestor.
func (n *Node) RemoveMethod(path string) ([]string, error) {
	target, err := n.ResolvePath(path)
	if err != nil {
		return nil, errors.Wrap(err, "Node", "RemoveMethod", "path resolution")
	}
	if target.parent == nil {
		target.SetOpts(Opts{})
		return []string{"/"}, nil
	}

	changed := []string{target.FullPath()}
	target.SetOpts(Opts{})

	cur := target
	for cur.parent != nil && cur.IsEmpty() {
		parent := cur.parent
		curPath := cur.FullPath()
		parent.RemoveChild(cur.name)
		if cur != target {
			changed = append(changed, curPath)
		}
		cur = parent
	}

	return changed, nil
}

// Methods yields every descendant that carries arguments, in pre-order.
// The sequence is lazy and finite.
func (n *Node) Methods() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walkMethods(yield)
	}
}

func (n *Node) walkMethods(yield func(*Node) bool) bool {
	if n.IsMethod() {
		if !yield(n) {
			return false
		}
	}
	for _, name := range n.ChildNames() {
		if !n.children[name].walkMethods(yield) {
			return false
		}
	}
	return true
}

// Equal compares two subtrees structurally on name, access, description,
// tags, critical, and arguments (type, range, clip mode, value).
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.name != other.name || n.Access() != other.Access() {
		return false
	}
	if !strPtrEqual(n.opts.Description, other.opts.Description) {
		return false
	}
	if !boolPtrEqual(n.opts.Critical, other.opts.Critical) {
		return false
	}
	if len(n.opts.Tags) != len(other.opts.Tags) {
		return false
	}
	for i := range n.opts.Tags {
		if n.opts.Tags[i] != other.opts.Tags[i] {
			return false
		}
	}
	if !argumentsEqual(n.opts.Arguments, other.opts.Arguments) {
		return false
	}
	if len(n.children) != len(other.children) {
		return false
	}
	for name, child := range n.children {
		otherChild, ok := other.children[name]
		if !ok || !child.Equal(otherChild) {
			return false
		}
	}
	return true
}

func argumentsEqual(a, b []osc.Argument) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Type.Equal(b[i].Type) {
			return false
		}
		if a[i].ClipMode != b[i].ClipMode {
			return false
		}
		if !rangesEqual(a[i].Range, b[i].Range) {
			return false
		}
		if fmt.Sprintf("%v", a[i].Value) != fmt.Sprintf("%v", b[i].Value) {
			return false
		}
	}
	return true
}

func rangesEqual(a, b *osc.Range) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !floatPtrEqual(a.Min, b.Min) || !floatPtrEqual(a.Max, b.Max) {
		return false
	}
	if len(a.Vals) != len(b.Vals) {
		return false
	}
	for i := range a.Vals {
		if fmt.Sprintf("%v", a.Vals[i]) != fmt.Sprintf("%v", b.Vals[i]) {
			return false
		}
	}
	if len(a.Elems) != len(b.Elems) {
		return false
	}
	for i := range a.Elems {
		if !rangesEqual(a.Elems[i], b.Elems[i]) {
			return false
		}
	}
	return true
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Ptr helpers for building Opts literals.

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// AccessPtr returns a pointer to a.
func AccessPtr(a Access) *Access { return &a }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
