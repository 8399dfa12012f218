package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/metric"
)

// Transports accepted for the OSC listener. TCP is accepted but produces
// only a warning; the listener is not implemented for it.
const (
	TransportUDP = "UDP"
	TransportTCP = "TCP"
)

// Options configures an OSCQuery server. The zero value is usable: an
// ephemeral HTTP port is acquired, the WebSocket and OSC endpoints share it,
// and the service advertises as "OSCQuery".
type Options struct {
	// HTTPPort is the query port; 0 acquires a free ephemeral port.
	HTTPPort int
	// BindAddress is the listen address for all transports ("" = all
	// interfaces).
	BindAddress string
	// RootDescription is the DESCRIPTION of the root node.
	RootDescription string
	// OSCQueryHostName overrides the NAME advertised in HOST_INFO.
	OSCQueryHostName string
	// OSCIP / OSCPort place the UDP OSC listener; they default to
	// BindAddress and the HTTP port.
	OSCIP   string
	OSCPort int
	// OSCTransport selects "UDP" (default) or "TCP" (warn-only).
	OSCTransport string
	// ServiceName is the mDNS instance name before sanitization.
	ServiceName string
	// WSIP / WSPort place the WebSocket endpoint; matching the HTTP
	// endpoint attaches the upgrade to the query listener.
	WSIP   string
	WSPort int
	// Broadcast re-emits inbound OSC messages to WebSocket subscribers.
	Broadcast bool
	// DisableMDNS suppresses the service advertisement, for embedders that
	// run their own responder and for test environments without multicast.
	DisableMDNS bool
}

// Deps holds runtime dependencies for the server.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// withDefaults fills unset fields per the OSCQuery defaults.
func (o Options) withDefaults() Options {
	if o.RootDescription == "" {
		o.RootDescription = "root node"
	}
	if o.ServiceName == "" {
		o.ServiceName = "OSCQuery"
	}
	if o.OSCTransport == "" {
		o.OSCTransport = TransportUDP
	}
	return o
}

// Validate rejects unusable option combinations.
func (o Options) Validate() error {
	if o.HTTPPort < 0 || o.HTTPPort > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid HTTP port %d", o.HTTPPort),
			"Options", "Validate", "port validation")
	}
	if o.WSPort < 0 || o.WSPort > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid WebSocket port %d", o.WSPort),
			"Options", "Validate", "port validation")
	}
	if o.OSCPort < 0 || o.OSCPort > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid OSC port %d", o.OSCPort),
			"Options", "Validate", "port validation")
	}
	switch strings.ToUpper(o.OSCTransport) {
	case "", TransportUDP, TransportTCP:
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown OSC transport %q", o.OSCTransport),
			"Options", "Validate", "transport validation")
	}
	return nil
}
