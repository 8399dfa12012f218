package server

import (
	"fmt"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/tree"
)

// AddMethod creates or re-declares the node at path, materializing missing
// intermediate containers, and notifies subscribers.
func (s *Server) AddMethod(path string, opts tree.Opts) error {
	for i, arg := range opts.Arguments {
		if arg.ClipMode != "" && !arg.ClipMode.Valid() {
			return errors.WrapInvalid(fmt.Errorf("unknown clip mode %q at argument %d", arg.ClipMode, i),
				"Server", "AddMethod", "argument validation")
		}
	}

	s.treeMu.Lock()
	s.root.AddMethod(path, opts)
	s.treeMu.Unlock()

	s.notifyPathChanged(path)
	return nil
}

// RemoveMethod removes the node at path and prunes emptied ancestors,
// notifying subscribers for the target and each pruned path.
func (s *Server) RemoveMethod(path string) error {
	s.treeMu.Lock()
	changed, err := s.root.RemoveMethod(path)
	s.treeMu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Server", "RemoveMethod", "tree removal")
	}

	for _, p := range changed {
		s.notifyPathChanged(p)
	}
	return nil
}

// SetValue assigns the value slot of argument i at path and notifies
// subscribers.
func (s *Server) SetValue(path string, i int, v any) error {
	s.treeMu.Lock()
	node, err := s.root.ResolvePath(path)
	if err == nil {
		err = node.SetValue(i, v)
	}
	s.treeMu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Server", "SetValue", "value assignment")
	}

	s.notifyPathChanged(path)
	return nil
}

// UnsetValue clears the value slot of argument i at path and notifies
// subscribers.
func (s *Server) UnsetValue(path string, i int) error {
	s.treeMu.Lock()
	node, err := s.root.ResolvePath(path)
	if err == nil {
		err = node.UnsetValue(i)
	}
	s.treeMu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Server", "UnsetValue", "value clearing")
	}

	s.notifyPathChanged(path)
	return nil
}

// SendValue updates the local value slots (best-effort per index), then
// broadcasts the binary OSC message to WebSocket subscribers. It does not
// send over UDP.
func (s *Server) SendValue(path string, args ...any) error {
	s.treeMu.Lock()
	node, err := s.root.ResolvePath(path)
	if err == nil {
		for i, arg := range args {
			if setErr := node.SetValue(i, arg); setErr != nil {
				s.logger.Debug("value slot not updated during send",
					"path", path, "index", i, "error", setErr)
			}
		}
	}
	s.treeMu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Server", "SendValue", "path resolution")
	}

	s.hub.BroadcastOSC(path, args)
	return nil
}

// BroadcastPathRenamed notifies every WebSocket client of a rename. The tree
// itself is not altered; callers re-add methods under the new path.
func (s *Server) BroadcastPathRenamed(oldPath, newPath string) {
	s.hub.BroadcastPathRenamed(oldPath, newPath)
}

// ReceiveOSCMessage applies an inbound OSC message to the tree: unknown
// paths and non-writable nodes are dropped, per-argument assignment errors
// are logged and the remainder of the message is processed. With the
// Broadcast option set, the message is re-emitted to WebSocket subscribers.
func (s *Server) ReceiveOSCMessage(path string, args []any) {
	s.treeMu.Lock()
	node, err := s.root.ResolvePath(path)
	if err != nil {
		s.treeMu.Unlock()
		s.logger.Debug("OSC message for unknown path dropped", "path", path)
		return
	}

	if !node.Access().Writable() {
		s.treeMu.Unlock()
		s.logger.Debug("OSC message for non-writable node dropped",
			"path", path, "access", int(node.Access()))
		return
	}

	for i, arg := range args {
		if setErr := node.SetValue(i, arg); setErr != nil {
			s.errorCount.Add(1)
			s.logger.Warn("argument assignment failed",
				"path", path, "index", i, "error", setErr)
		}
	}
	s.treeMu.Unlock()

	if s.opts.Broadcast {
		s.hub.BroadcastOSC(path, args)
	}
}

// notifyPathChanged fans a PATH_CHANGED out to matching subscribers. It runs
// after the mutation's write lock is released, so the notification strictly
// follows the tree change, and synchronously on the mutator's goroutine, so
// successive mutations enqueue in order for every client.
func (s *Server) notifyPathChanged(path string) {
	if !s.hub.Running() {
		return
	}
	s.hub.BroadcastPathChanged(path)
}

// Resolve serializes the subtree at path under the read lock.
func (s *Server) Resolve(path string) (*tree.Serialized, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	node, err := s.root.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return node.Serialize(), nil
}
