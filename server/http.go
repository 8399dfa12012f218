package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/defektu/oscquery/tree"
	"github.com/defektu/oscquery/wshub"
)

// QueryHandler exposes the query surface as an http.Handler for embedders
// that mount OSCQuery on their own server.
func (s *Server) QueryHandler() http.Handler {
	return http.HandlerFunc(s.handleQuery)
}

// handleQuery serves the OSCQuery HTTP surface: GET /<path>[?ATTR] and CORS
// preflight. Anything other than GET and OPTIONS is a 400 per the protocol.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := s.serveQuery(w, r)

	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(strconv.Itoa(status / 100 * 100)).Inc()
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) int {
	switch r.Method {
	case http.MethodOptions:
		s.applyCORS(w, r)
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	case http.MethodGet:
	default:
		s.writeError(w, http.StatusBadRequest, "method not allowed")
		return http.StatusBadRequest
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")

	attr := queryAttr(r.URL.RawQuery)

	// HOST_INFO is answered at any path.
	if attr == tree.AttrHostInfo {
		s.writeJSON(w, s.HostInfo())
		return http.StatusOK
	}

	serialized, err := s.Resolve(r.URL.Path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no such node")
		return http.StatusNotFound
	}

	if attr == "" {
		s.writeJSON(w, serialized)
		return http.StatusOK
	}

	if !tree.QueryableAttrs[attr] {
		s.writeError(w, http.StatusBadRequest, "unrecognized attribute")
		return http.StatusBadRequest
	}

	// VALUE is unreadable on containers and write-only methods.
	if attr == tree.AttrValue {
		access := tree.AccessNone
		if serialized.Access != nil {
			access = tree.Access(*serialized.Access)
		}
		if !access.Readable() {
			w.WriteHeader(http.StatusNoContent)
			return http.StatusNoContent
		}
	}

	value, _ := serialized.Attr(attr)
	s.writeJSON(w, map[string]any{attr: value})
	return http.StatusOK
}

// queryAttr extracts the attribute name from the raw query ("?VALUE" style;
// a trailing "=" from strict clients is tolerated).
func queryAttr(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	attr := strings.TrimSuffix(rawQuery, "=")
	if unescaped, err := url.QueryUnescape(attr); err == nil {
		attr = unescaped
	}
	return attr
}

// applyCORS answers preflight with the permissive policy of the protocol.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "86400")
}

// HostInfo builds the HOST_INFO document for the current configuration. The
// LISTEN/PATH_CHANGED extensions appear only while the WebSocket hub runs.
func (s *Server) HostInfo() *tree.HostInfo {
	bindIP := s.opts.BindAddress
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}

	oscIP := s.opts.OSCIP
	if oscIP == "" {
		oscIP = bindIP
	}
	oscPort := s.opts.OSCPort
	if oscPort == 0 {
		oscPort = s.httpPort
	}

	wsIP := s.opts.WSIP
	if wsIP == "" {
		wsIP = bindIP
	}
	wsPort := s.wsPort
	if wsPort == 0 {
		wsPort = s.httpPort
	}

	extensions := map[string]bool{
		tree.AttrAccess:      true,
		tree.AttrValue:       true,
		tree.AttrRange:       true,
		tree.AttrDescription: true,
		tree.AttrTags:        true,
		tree.AttrCritical:    true,
		tree.AttrClipMode:    true,
	}
	if s.hub.Running() {
		extensions[wshub.CommandListen] = true
		extensions[wshub.CommandPathChanged] = true
	}

	name := s.opts.OSCQueryHostName
	if name == "" {
		name = s.opts.ServiceName
	}

	return &tree.HostInfo{
		Name:         name,
		Extensions:   extensions,
		OSCIP:        oscIP,
		OSCPort:      oscPort,
		OSCTransport: strings.ToUpper(s.opts.OSCTransport),
		WSIP:         wsIP,
		WSPort:       wsPort,
	}
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "serialization failed")
		return
	}
	_, _ = w.Write(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
