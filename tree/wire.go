package tree

import (
	"github.com/defektu/oscquery/osc"
)

// Attribute names of the OSCQuery HTTP surface.
const (
	AttrFullPath    = "FULL_PATH"
	AttrContents    = "CONTENTS"
	AttrType        = "TYPE"
	AttrAccess      = "ACCESS"
	AttrRange       = "RANGE"
	AttrDescription = "DESCRIPTION"
	AttrTags        = "TAGS"
	AttrCritical    = "CRITICAL"
	AttrClipMode    = "CLIPMODE"
	AttrValue       = "VALUE"
	AttrHostInfo    = "HOST_INFO"
)

// QueryableAttrs is the allowed set of HTTP query parameters.
var QueryableAttrs = map[string]bool{
	AttrFullPath:    true,
	AttrContents:    true,
	AttrType:        true,
	AttrAccess:      true,
	AttrRange:       true,
	AttrDescription: true,
	AttrTags:        true,
	AttrCritical:    true,
	AttrClipMode:    true,
	AttrValue:       true,
	AttrHostInfo:    true,
}

// RangeEntry is the wire form of a simple argument range.
type RangeEntry struct {
	Min  *float64 `json:"MIN,omitempty"`
	Max  *float64 `json:"MAX,omitempty"`
	Vals []any    `json:"VALS,omitempty"`
}

// Serialized is the wire JSON shape of a node. Optional attributes are
// omitted when unset; the VALUE/RANGE/CLIPMODE arrays are length-aligned to
// the arguments with null placeholders.
type Serialized struct {
	FullPath    string                 `json:"FULL_PATH"`
	Contents    map[string]*Serialized `json:"CONTENTS,omitempty"`
	Type        *string                `json:"TYPE,omitempty"`
	Access      *int                   `json:"ACCESS,omitempty"`
	Range       []any                  `json:"RANGE,omitempty"`
	ClipMode    []any                  `json:"CLIPMODE,omitempty"`
	Value       []any                  `json:"VALUE,omitempty"`
	Description *string                `json:"DESCRIPTION,omitempty"`
	Tags        []string               `json:"TAGS,omitempty"`
	Critical    *bool                  `json:"CRITICAL,omitempty"`
}

// HostInfo describes a server's transport endpoints and supported
// extensions.
type HostInfo struct {
	Name         string          `json:"NAME,omitempty"`
	Extensions   map[string]bool `json:"EXTENSIONS,omitempty"`
	OSCIP        string          `json:"OSC_IP,omitempty"`
	OSCPort      int             `json:"OSC_PORT,omitempty"`
	OSCTransport string          `json:"OSC_TRANSPORT,omitempty"`
	WSIP         string          `json:"WS_IP,omitempty"`
	WSPort       int             `json:"WS_PORT,omitempty"`
}

// Serialize produces the wire JSON object for the subtree rooted at n.
func (n *Node) Serialize() *Serialized {
	s := &Serialized{FullPath: n.FullPath()}

	if len(n.children) > 0 {
		s.Contents = make(map[string]*Serialized, len(n.children))
		for name, child := range n.children {
			s.Contents[name] = child.Serialize()
		}
	}

	if n.opts.Description != nil {
		s.Description = n.opts.Description
	}
	if n.opts.Access != nil {
		access := int(*n.opts.Access)
		s.Access = &access
	}
	if len(n.opts.Tags) > 0 {
		s.Tags = n.opts.Tags
	}
	if n.opts.Critical != nil {
		s.Critical = n.opts.Critical
	}

	if !n.IsMethod() {
		return s
	}

	args := n.opts.Arguments
	types := make([]osc.Type, len(args))
	for i, a := range args {
		types[i] = a.Type
	}
	tag := osc.TypeTagString(types)
	s.Type = &tag

	anyMeta := false
	for _, a := range args {
		if a.HasMeta() {
			anyMeta = true
			break
		}
	}
	if !anyMeta {
		return s
	}

	s.Value = make([]any, len(args))
	s.Range = make([]any, len(args))
	s.ClipMode = make([]any, len(args))
	for i, a := range args {
		s.Value[i] = a.Value
		s.Range[i] = rangeWire(a.Range, a.Type)
		if a.ClipMode != "" {
			s.ClipMode[i] = string(a.ClipMode)
		}
	}

	return s
}

// rangeWire converts a Range into its wire form: a RangeEntry, a nested
// array of entries for array argument types, or nil.
func rangeWire(r *osc.Range, t osc.Type) any {
	if r == nil {
		return nil
	}

	if t.IsArray() || r.Elems != nil {
		entries := make([]any, len(r.Elems))
		for i, elem := range r.Elems {
			var elemType osc.Type
			if i < len(t.Array) {
				elemType = t.Array[i]
			}
			entries[i] = rangeWire(elem, elemType)
		}
		return entries
	}

	return &RangeEntry{Min: r.Min, Max: r.Max, Vals: r.Vals}
}

// Attr projects a single serialized attribute by name. The second return
// reports whether the attribute name is part of the wire shape.
func (s *Serialized) Attr(name string) (any, bool) {
	switch name {
	case AttrFullPath:
		return s.FullPath, true
	case AttrContents:
		return s.Contents, true
	case AttrType:
		if s.Type == nil {
			return nil, true
		}
		return *s.Type, true
	case AttrAccess:
		if s.Access == nil {
			return 0, true
		}
		return *s.Access, true
	case AttrRange:
		return s.Range, true
	case AttrClipMode:
		return s.ClipMode, true
	case AttrValue:
		return s.Value, true
	case AttrDescription:
		if s.Description == nil {
			return nil, true
		}
		return *s.Description, true
	case AttrTags:
		return s.Tags, true
	case AttrCritical:
		if s.Critical == nil {
			return false, true
		}
		return *s.Critical, true
	default:
		return nil, false
	}
}
