// Package oscquery implements the OSCQuery protocol: a discoverable,
// introspectable control surface for Open Sound Control endpoints.
//
// # Architecture
//
// An OSCQuery server owns a hierarchical tree of OSC methods and exposes it
// over three transports, all composed by the server orchestrator:
//
//	┌─────────────────────────────────────┐
//	│        Server (server pkg)          │  lifecycle, mutator API,
//	│  HTTP + WebSocket + UDP + mDNS      │  change notifications
//	└─────────────────────────────────────┘
//	           ↓ consults
//	┌─────────────────────────────────────┐
//	│       Method tree (tree pkg)        │  path-addressed nodes,
//	│   typed arguments, wire JSON        │  access flags, values
//	└─────────────────────────────────────┘
//	           ↓ framed by
//	┌─────────────────────────────────────┐
//	│       OSC codec (osc pkg)           │  OSC 1.0 binary messages,
//	│   type tags, argument encoding      │  type-tag string parsing
//	└─────────────────────────────────────┘
//
// HTTP clients GET any path for its JSON description, or a single attribute
// via query parameter. WebSocket clients subscribe to path prefixes with
// LISTEN/IGNORE commands and receive PATH_CHANGED, PATH_RENAMED, and binary
// OSC notifications. UDP datagrams carrying OSC messages set argument values
// on writable methods.
//
// The client side composes the discovery package (mDNS browsing) with an
// HTTP fetcher that rebuilds remote trees:
//
//	discovery.Browser ──up/down──▶ client.Client ──GET /,?HOST_INFO──▶ tree
//
// # Packages
//
//   - osc: OSC type model, type-tag strings, binary codec
//   - tree: method tree and its wire JSON shape
//   - wshub: WebSocket client registry and notification fan-out
//   - server: orchestrator, HTTP query handler, UDP listener, mDNS advert
//   - discovery: mDNS service browsing
//   - client: remote server discovery and tree ingestion
//   - errors, metric, health, config, pkg/retry: platform support
package oscquery
