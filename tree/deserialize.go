package tree

import (
	"bytes"
	"encoding/json"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/osc"
)

// wireNode mirrors Serialized for decoding; RANGE entries stay raw because
// their shape depends on the argument type.
type wireNode struct {
	Contents    map[string]*wireNode `json:"CONTENTS"`
	Type        *string              `json:"TYPE"`
	Access      *int                 `json:"ACCESS"`
	Range       []json.RawMessage    `json:"RANGE"`
	ClipMode    []*string            `json:"CLIPMODE"`
	Value       []any                `json:"VALUE"`
	Description *string              `json:"DESCRIPTION"`
	Tags        []string             `json:"TAGS"`
	Critical    *bool                `json:"CRITICAL"`
}

// Deserialize rebuilds a tree from the wire JSON of a remote server's root
// (or any subtree).
func Deserialize(data []byte) (*Node, error) {
	var wire wireNode
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.WrapInvalid(err, "tree", "Deserialize", "wire JSON decode")
	}

	root := NewRoot()
	if err := applyWire(root, &wire); err != nil {
		return nil, err
	}
	return root, nil
}

// ParseHostInfo decodes a HOST_INFO document.
func ParseHostInfo(data []byte) (*HostInfo, error) {
	var info HostInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.WrapInvalid(err, "tree", "ParseHostInfo", "HOST_INFO decode")
	}
	return &info, nil
}

// applyWire fills in one node from its wire form and recurses into children.
func applyWire(n *Node, wire *wireNode) error {
	opts := Opts{
		Description: wire.Description,
		Tags:        wire.Tags,
		Critical:    wire.Critical,
	}
	if wire.Access != nil {
		access := Access(*wire.Access)
		opts.Access = &access
	}

	if wire.Type != nil {
		types := osc.ParseTypeTag(*wire.Type)
		args := make([]osc.Argument, len(types))
		for i, t := range types {
			args[i] = osc.Argument{Type: t}

			if i < len(wire.Range) {
				r, err := parseRangeRaw(wire.Range[i])
				if err != nil {
					return err
				}
				args[i].Range = r
			}
			if i < len(wire.ClipMode) && wire.ClipMode[i] != nil {
				args[i].ClipMode = osc.ClipMode(*wire.ClipMode[i])
			}
			if i < len(wire.Value) && wire.Value[i] != nil {
				args[i].Value = wire.Value[i]
			}
		}
		opts.Arguments = args
	}

	n.SetOpts(opts)

	for name, childWire := range wire.Contents {
		child := n.GetOrCreateChild(name)
		if err := applyWire(child, childWire); err != nil {
			return err
		}
	}
	return nil
}

// parseRangeRaw decodes one RANGE entry: null, a MIN/MAX/VALS object, or a
// nested array of entries for array argument types.
func parseRangeRaw(raw json.RawMessage) (*osc.Range, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, errors.WrapInvalid(err, "tree", "parseRangeRaw", "nested range decode")
		}
		r := &osc.Range{Elems: make([]*osc.Range, len(elems))}
		for i, elem := range elems {
			sub, err := parseRangeRaw(elem)
			if err != nil {
				return nil, err
			}
			r.Elems[i] = sub
		}
		return r, nil
	}

	var entry RangeEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return nil, errors.WrapInvalid(err, "tree", "parseRangeRaw", "range entry decode")
	}
	return &osc.Range{Min: entry.Min, Max: entry.Max, Vals: entry.Vals}, nil
}
