// Package discovery implements mDNS service browsing for OSCQuery: periodic
// multi-type queries, per-(address, port) deduplication, and up/down events
// as services appear and expire.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/metric"
)

// EventKind classifies browser events.
type EventKind int

// Browser event kinds.
const (
	ServiceUp EventKind = iota
	ServiceDown
)

// Service describes one discovered network service.
type Service struct {
	Name     string
	Type     string
	FullType string
	Host     string
	Address  net.IP
	Port     int
	TXT      map[string]string
}

// Key identifies a service instance; up fires once per unique key within a
// browsing session.
func (s Service) Key() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Event is one up/down transition.
type Event struct {
	Kind    EventKind
	Service Service
}

// Options configures a Browser.
type Options struct {
	// Services lists the service types to browse; "_oscjson._tcp",
	// "oscjson", and "http" are all accepted spellings.
	Services []string
	// Protocol filters results to "tcp" (default) or "udp" services.
	Protocol string
	// Domain is the browse domain, default "local.".
	Domain string
	// QueryInterval paces the periodic queries; default 5s.
	QueryInterval time.Duration
	// ExpireAfter retires a service not seen for this long; default
	// 3 × QueryInterval.
	ExpireAfter time.Duration
}

// Deps holds runtime dependencies for the browser.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// trackedService pairs a service with its last-seen time for expiry.
type trackedService struct {
	service  Service
	lastSeen time.Time
}

// Browser performs periodic mDNS queries for a set of service types and
// emits up/down events on its Events channel.
type Browser struct {
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics

	events chan Event

	mu      sync.Mutex
	tracked map[string]*trackedService

	iface *net.Interface

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewBrowser creates a browser for the given service types.
func NewBrowser(opts Options, deps Deps) (*Browser, error) {
	if len(opts.Services) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Browser", "NewBrowser", "service type list")
	}
	if opts.Protocol == "" {
		opts.Protocol = "tcp"
	}
	if opts.Domain == "" {
		opts.Domain = "local."
	}
	if opts.QueryInterval <= 0 {
		opts.QueryInterval = 5 * time.Second
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = 3 * opts.QueryInterval
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mdns-browser")
	}

	return &Browser{
		opts:    opts,
		logger:  logger,
		metrics: deps.MetricsRegistry.CoreMetrics(),
		events:  make(chan Event, 64),
		tracked: make(map[string]*trackedService),
	}, nil
}

// Events returns the browser's event channel. The channel is closed after
// Stop returns.
func (b *Browser) Events() <-chan Event {
	return b.events
}

// Start begins browsing. Queries run immediately and then on the configured
// interval until Stop or context cancellation.
func (b *Browser) Start(ctx context.Context) error {
	if b.running.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Browser", "Start", "lifecycle check")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.selectInterface()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.queryLoop()
	}()
	go func() {
		defer b.wg.Done()
		b.expireLoop()
	}()

	b.logger.Info("mDNS browsing started",
		"services", b.opts.Services, "protocol", b.opts.Protocol)
	return nil
}

// Stop ends browsing and closes the event channel.
func (b *Browser) Stop() {
	if !b.running.Swap(false) {
		return
	}
	b.cancel()
	b.wg.Wait()
	close(b.events)
}

// selectInterface picks the primary interface for queries. Darwin is never
// bound explicitly to avoid conflicting with the system responder.
func (b *Browser) selectInterface() {
	if runtime.GOOS == "darwin" {
		return
	}

	primary := choosePrimary(localIPv4s())
	if primary == nil {
		return
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.Equal(primary) {
				b.iface = &ifaces[i]
				b.logger.Debug("bound mDNS queries to interface",
					"interface", ifaces[i].Name, "ip", primary)
				return
			}
		}
	}
}

// choosePrimary picks the browsing address: the first RFC1918 address in the
// common home/office blocks, else the first non-loopback IPv4.
func choosePrimary(ips []net.IP) net.IP {
	for _, ip := range ips {
		s := ip.String()
		if strings.HasPrefix(s, "192.168.") || strings.HasPrefix(s, "10.") {
			return ip
		}
	}
	if len(ips) > 0 {
		return ips[0]
	}
	return nil
}

// localIPv4s collects non-loopback IPv4 addresses.
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

// NormalizeServiceType strips a single leading underscore and a trailing
// protocol suffix, so "_oscjson._tcp", "oscjson", and "http" are equivalent
// inputs.
func NormalizeServiceType(serviceType string) string {
	normalized := strings.TrimPrefix(serviceType, "_")
	normalized = strings.TrimSuffix(normalized, "._tcp")
	normalized = strings.TrimSuffix(normalized, "._udp")
	return normalized
}

// queryLoop issues one round immediately and then on every tick.
func (b *Browser) queryLoop() {
	b.runQueries()

	ticker := time.NewTicker(b.opts.QueryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.runQueries()
		}
	}
}

// runQueries browses every configured service type once.
func (b *Browser) runQueries() {
	for _, serviceType := range b.opts.Services {
		normalized := NormalizeServiceType(serviceType)
		b.queryOne(normalized)
	}
}

// queryOne performs a single mDNS query for one normalized type.
func (b *Browser) queryOne(normalized string) {
	entryCh := make(chan *mdns.ServiceEntry, 32)

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for entry := range entryCh {
			b.handleEntry(normalized, entry)
		}
	}()

	params := &mdns.QueryParam{
		Service:             fmt.Sprintf("_%s._%s", normalized, b.opts.Protocol),
		Domain:              b.opts.Domain,
		Timeout:             b.opts.QueryInterval,
		Entries:             entryCh,
		Interface:           b.iface,
		WantUnicastResponse: true,
	}

	if err := mdns.Query(params); err != nil {
		b.logger.Debug("mDNS query failed", "service", normalized, "error", err)
	}
	close(entryCh)
	<-collected
}

// handleEntry records a discovered entry, emitting up on the first sighting
// of each (address, port) pair.
func (b *Browser) handleEntry(normalized string, entry *mdns.ServiceEntry) {
	if entry == nil {
		return
	}

	var address net.IP
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4
	case entry.AddrV6 != nil:
		address = entry.AddrV6
	default:
		return
	}

	service := Service{
		Name:     instanceName(entry.Name),
		Type:     normalized,
		FullType: fmt.Sprintf("%s._%s.local", normalized, b.opts.Protocol),
		Host:     entry.Host,
		Address:  address,
		Port:     entry.Port,
		TXT:      parseTXT(entry.InfoFields),
	}

	b.mu.Lock()
	tracked, seen := b.tracked[service.Key()]
	if seen {
		tracked.lastSeen = time.Now()
		b.mu.Unlock()
		return
	}
	b.tracked[service.Key()] = &trackedService{service: service, lastSeen: time.Now()}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ServicesUp.Inc()
	}
	b.emit(Event{Kind: ServiceUp, Service: service})
}

// expireLoop retires services that stopped answering queries.
func (b *Browser) expireLoop() {
	ticker := time.NewTicker(b.opts.QueryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.expire()
		}
	}
}

func (b *Browser) expire() {
	cutoff := time.Now().Add(-b.opts.ExpireAfter)

	var down []Service
	b.mu.Lock()
	for key, tracked := range b.tracked {
		if tracked.lastSeen.Before(cutoff) {
			down = append(down, tracked.service)
			delete(b.tracked, key)
		}
	}
	b.mu.Unlock()

	for _, service := range down {
		if b.metrics != nil {
			b.metrics.ServicesDown.Inc()
		}
		b.emit(Event{Kind: ServiceDown, Service: service})
	}
}

// emit delivers an event without blocking the query loop; a consumer that
// stops draining loses events rather than stalling discovery.
func (b *Browser) emit(event Event) {
	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		b.logger.Warn("discovery event dropped, consumer not draining",
			"kind", int(event.Kind), "service", event.Service.Name)
	}
}

// instanceName extracts the instance label from a fully qualified entry
// name like "Studio._oscjson._tcp.local.".
func instanceName(fqdn string) string {
	if i := strings.Index(fqdn, "._"); i >= 0 {
		return fqdn[:i]
	}
	return strings.TrimSuffix(fqdn, ".")
}

// parseTXT converts key=value TXT records into a dictionary; bare keys map
// to empty strings.
func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		if k, v, found := strings.Cut(field, "="); found {
			txt[k] = v
		} else {
			txt[field] = ""
		}
	}
	return txt
}
