// Package server composes the OSCQuery server: the HTTP query surface, the
// WebSocket hub, the UDP OSC listener, and the mDNS advertisement, built
// around a single method tree guarded by a reader-writer lock.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/mdns"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/health"
	"github.com/defektu/oscquery/metric"
	"github.com/defektu/oscquery/osc"
	"github.com/defektu/oscquery/pkg/retry"
	"github.com/defektu/oscquery/tree"
	"github.com/defektu/oscquery/wshub"
)

// Server is the OSCQuery orchestrator. It exclusively owns its method tree;
// all mutations go through the mutator API, which triggers PATH_CHANGED
// notifications to WebSocket subscribers.
type Server struct {
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics

	// The method tree is the sole writable shared resource. Mutators take
	// the write lock; HTTP reads and broadcast serialization take the read
	// lock.
	root   *tree.Node
	treeMu sync.RWMutex

	hub *wshub.Hub

	httpLn     net.Listener
	httpServer *http.Server
	wsLn       net.Listener
	wsServer   *http.Server
	udpConn    *net.UDPConn
	mdnsServer *mdns.Server

	httpPort      int
	wsPort        int
	attached      bool
	sanitizedName string

	retryConfig retry.Config

	running    atomic.Bool
	startTime  time.Time
	errorCount atomic.Int64
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates an OSCQuery server. The tree starts as a bare root
// carrying only the configured description.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "oscquery-server")
	}

	root := tree.NewRoot()
	root.SetOpts(tree.Opts{Description: tree.StringPtr(opts.RootDescription)})

	s := &Server{
		opts:        opts,
		logger:      logger,
		metrics:     deps.MetricsRegistry.CoreMetrics(),
		root:        root,
		retryConfig: retry.DefaultConfig(),
	}

	s.hub = wshub.NewHub(wshub.HubDeps{
		Logger:          logger.With("component", "ws-hub"),
		MetricsRegistry: deps.MetricsRegistry,
		OSCHandler:      s.ReceiveOSCMessage,
	})

	return s, nil
}

// Start brings up all transports and the mDNS advertisement. It returns only
// when HTTP, WebSocket, the OSC listener (if any), and the advertisement are
// ready.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "lifecycle check")
	}

	s.shutdown = make(chan struct{})

	if err := s.startHTTP(ctx); err != nil {
		s.cleanup()
		return err
	}
	if err := s.startWS(ctx); err != nil {
		s.cleanup()
		return err
	}
	if err := s.startOSC(ctx); err != nil {
		s.cleanup()
		return err
	}
	if err := s.advertise(); err != nil {
		s.cleanup()
		return err
	}

	s.running.Store(true)
	s.startTime = time.Now()

	s.logger.Info("OSCQuery server started",
		"service", s.sanitizedName,
		"httpPort", s.httpPort,
		"wsPort", s.wsPort,
		"attached", s.attached,
		"oscTransport", s.opts.OSCTransport)

	return nil
}

// startHTTP binds the query listener, resolving the ephemeral port when none
// was configured.
func (s *Server) startHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.BindAddress, s.opts.HTTPPort)

	bind := func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		s.httpLn = ln
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bind); err != nil {
		return errors.WrapTransient(err, "Server", "startHTTP", "query listener binding")
	}

	s.httpPort = s.httpLn.Addr().(*net.TCPAddr).Port

	// The WebSocket endpoint defaults onto the query listener; attached mode
	// upgrades in place.
	wsIP := s.opts.WSIP
	if wsIP == "" {
		wsIP = s.opts.BindAddress
	}
	s.wsPort = s.opts.WSPort
	if s.wsPort == 0 {
		s.wsPort = s.httpPort
	}
	s.attached = s.wsPort == s.httpPort && wsIP == s.opts.BindAddress

	s.httpServer = &http.Server{
		Handler:           http.HandlerFunc(s.handleHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.httpLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("query server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// startWS starts the hub, on its own listener unless attached.
func (s *Server) startWS(ctx context.Context) error {
	s.hub.Start()

	if s.attached {
		return nil
	}

	wsIP := s.opts.WSIP
	if wsIP == "" {
		wsIP = s.opts.BindAddress
	}
	addr := fmt.Sprintf("%s:%d", wsIP, s.wsPort)

	bind := func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		s.wsLn = ln
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bind); err != nil {
		return errors.WrapTransient(err, "Server", "startWS", "WebSocket listener binding")
	}

	s.wsPort = s.wsLn.Addr().(*net.TCPAddr).Port
	s.wsServer = &http.Server{
		Handler:           s.hub,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.wsServer.Serve(s.wsLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// handleHTTP multiplexes WebSocket upgrades (attached mode) and query
// requests on the query listener.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if s.attached && websocket.IsWebSocketUpgrade(r) {
		s.hub.ServeHTTP(w, r)
		return
	}
	s.handleQuery(w, r)
}

// startOSC binds the UDP OSC listener. TCP is accepted in configuration but
// only warned about.
func (s *Server) startOSC(ctx context.Context) error {
	transport := strings.ToUpper(s.opts.OSCTransport)
	if transport == TransportTCP {
		s.logger.Warn("TCP OSC transport is not implemented; no OSC listener started",
			"transport", s.opts.OSCTransport)
		return nil
	}

	oscIP := s.opts.OSCIP
	if oscIP == "" {
		oscIP = s.opts.BindAddress
	}
	oscPort := s.opts.OSCPort
	if oscPort == 0 {
		oscPort = s.httpPort
	}

	bind := func() error {
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", oscIP, oscPort))
		if err != nil {
			return err
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return err
		}
		s.udpConn = conn
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bind); err != nil {
		return errors.WrapTransient(err, "Server", "startOSC", "UDP listener binding")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readOSCLoop()
	}()

	return nil
}

// advertise registers the mDNS service for the query endpoint.
func (s *Server) advertise() error {
	s.sanitizedName = SanitizeServiceName(s.opts.ServiceName)

	if s.opts.DisableMDNS {
		return nil
	}

	ips := localIPv4s()
	service, err := mdns.NewMDNSService(
		s.sanitizedName,
		"_oscjson._tcp",
		"local.",
		s.sanitizedName+serviceSuffix+".",
		s.httpPort,
		ips,
		[]string{"txtvers=1"},
	)
	if err != nil {
		return errors.WrapTransient(err, "Server", "advertise", "mDNS service creation")
	}

	mdnsServer, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return errors.WrapTransient(err, "Server", "advertise", "mDNS responder start")
	}
	s.mdnsServer = mdnsServer

	s.logger.Debug("mDNS advertisement active",
		"instance", s.sanitizedName, "port", s.httpPort, "ips", len(ips))
	return nil
}

// localIPv4s collects non-loopback IPv4 addresses for the A records.
func localIPv4s() []net.IP {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				ips = append(ips, ip4)
			}
		}
	}
	return ips
}

// readOSCLoop decodes inbound datagrams until shutdown. Read deadlines are
// short so the loop notices shutdown promptly.
func (s *Server) readOSCLoop() {
	buf := make([]byte, 65536)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		_ = s.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				s.errorCount.Add(1)
				continue
			}
		}

		if s.metrics != nil {
			s.metrics.UDPDatagrams.Inc()
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := osc.Decode(data)
		if err != nil {
			s.logger.Warn("malformed OSC datagram dropped", "error", err)
			if s.metrics != nil {
				s.metrics.OSCMalformed.Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.OSCDecoded.Inc()
		}

		s.ReceiveOSCMessage(msg.Path, msg.Args)
	}
}

// Stop tears everything down: HTTP, WebSocket (including all client
// sockets), the UDP listener, and the mDNS advertisement, concurrently. It
// returns once all four complete or the timeout elapses.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Swap(false) {
		return nil
	}

	close(s.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stopWG sync.WaitGroup
	stopWG.Add(4)

	go func() {
		defer stopWG.Done()
		if s.httpServer != nil {
			_ = s.httpServer.Shutdown(ctx)
		}
	}()
	go func() {
		defer stopWG.Done()
		s.hub.Stop()
		if s.wsServer != nil {
			_ = s.wsServer.Shutdown(ctx)
		}
	}()
	go func() {
		defer stopWG.Done()
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
	}()
	go func() {
		defer stopWG.Done()
		if s.mdnsServer != nil {
			_ = s.mdnsServer.Shutdown()
		}
	}()

	done := make(chan struct{})
	go func() {
		stopWG.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Server", "Stop", "graceful shutdown")
	}

	s.cleanup()
	s.logger.Info("OSCQuery server stopped")
	return nil
}

// cleanup releases any partially initialized resources.
func (s *Server) cleanup() {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.wsLn != nil {
		_ = s.wsLn.Close()
		s.wsLn = nil
	}
	if s.udpConn != nil {
		_ = s.udpConn.Close()
		s.udpConn = nil
	}
	if s.mdnsServer != nil {
		_ = s.mdnsServer.Shutdown()
		s.mdnsServer = nil
	}
	s.httpServer = nil
	s.wsServer = nil
}

// Running reports whether Start completed and Stop has not been called.
func (s *Server) Running() bool {
	return s.running.Load()
}

// HTTPPort returns the bound query port, valid after Start.
func (s *Server) HTTPPort() int {
	return s.httpPort
}

// WSPort returns the bound WebSocket port, valid after Start.
func (s *Server) WSPort() int {
	return s.wsPort
}

// ServiceName returns the sanitized mDNS instance name, valid after Start.
func (s *Server) ServiceName() string {
	return s.sanitizedName
}

// Health reports the server's health snapshot.
func (s *Server) Health() health.Status {
	if !s.running.Load() {
		return health.Unhealthy("oscquery-server", "not running")
	}
	return health.Healthy("oscquery-server").WithMetrics(&health.Metrics{
		Uptime:        time.Since(s.startTime),
		ErrorCount:    int(s.errorCount.Load()),
		ClientsActive: s.hub.ClientCount(),
	})
}
