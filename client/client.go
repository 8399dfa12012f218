// Package client implements the OSCQuery discovery client: it browses the
// LAN for OSCQuery servers, fetches their method trees and host metadata
// over HTTP, and tracks the discovered service set.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defektu/oscquery/discovery"
	"github.com/defektu/oscquery/errors"
	"github.com/defektu/oscquery/metric"
	"github.com/defektu/oscquery/pkg/retry"
	"github.com/defektu/oscquery/tree"
)

// EventKind classifies client events.
type EventKind int

// Client event kinds.
const (
	ServiceUp EventKind = iota
	ServiceDown
	ServiceError
)

// DiscoveredService is one OSCQuery server on the network, together with the
// latest snapshot of its tree and host metadata. Snapshots are immutable;
// Update builds a fresh tree rather than mutating one in place.
type DiscoveredService struct {
	Name     string
	Address  net.IP
	Port     int
	HostInfo *tree.HostInfo
	Nodes    *tree.Node
}

// Key identifies the service in the tracked set.
func (d *DiscoveredService) Key() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// BaseURL is the root of the service's HTTP query surface.
func (d *DiscoveredService) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.Address, d.Port)
}

// Event is one service transition or fetch failure.
type Event struct {
	Kind    EventKind
	Service *DiscoveredService
	Err     error
}

// Options configures the discovery client.
type Options struct {
	// Services lists the mDNS types to browse; defaults to oscjson.
	Services []string
	// QueryInterval paces mDNS queries; see discovery.Options.
	QueryInterval time.Duration
	// FetchTimeout bounds each HTTP fetch; default 5s.
	FetchTimeout time.Duration
}

// Deps holds runtime dependencies for the client.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Client composes the mDNS browser with the HTTP tree fetcher.
type Client struct {
	opts   Options
	logger *slog.Logger

	browser    *discovery.Browser
	httpClient *http.Client
	retryCfg   retry.Config

	mu       sync.RWMutex
	services map[string]*DiscoveredService

	events  chan Event
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a discovery client.
func New(opts Options, deps Deps) (*Client, error) {
	if len(opts.Services) == 0 {
		opts.Services = []string{"oscjson"}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "oscquery-client")
	}

	browser, err := discovery.NewBrowser(discovery.Options{
		Services:      opts.Services,
		QueryInterval: opts.QueryInterval,
	}, discovery.Deps{
		Logger:          logger.With("component", "mdns-browser"),
		MetricsRegistry: deps.MetricsRegistry,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "New", "browser construction")
	}

	return &Client{
		opts:       opts,
		logger:     logger,
		browser:    browser,
		httpClient: &http.Client{Timeout: opts.FetchTimeout},
		retryCfg:   retry.DefaultConfig(),
		services:   make(map[string]*DiscoveredService),
		events:     make(chan Event, 64),
	}, nil
}

// Events returns the client's event channel. Closed after Stop returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start begins browsing and fetching.
func (c *Client) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Start", "lifecycle check")
	}

	if err := c.browser.Start(ctx); err != nil {
		c.running.Store(false)
		return errors.Wrap(err, "Client", "Start", "browser startup")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()

	return nil
}

// Stop ends discovery and closes the event channel.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	c.browser.Stop()
	c.wg.Wait()
	close(c.events)
}

// Services returns a snapshot of the tracked service set.
func (c *Client) Services() []*DiscoveredService {
	c.mu.RLock()
	defer c.mu.RUnlock()

	services := make([]*DiscoveredService, 0, len(c.services))
	for _, s := range c.services {
		services = append(services, s)
	}
	return services
}

// consume turns browser events into tracked services.
func (c *Client) consume(ctx context.Context) {
	for event := range c.browser.Events() {
		switch event.Kind {
		case discovery.ServiceUp:
			c.handleUp(ctx, event.Service)
		case discovery.ServiceDown:
			c.handleDown(event.Service)
		}
	}
}

// handleUp fetches the tree of a newly discovered service. IPv6 addresses
// are ignored; the HTTP fetch side of the protocol is IPv4-only here.
func (c *Client) handleUp(ctx context.Context, svc discovery.Service) {
	if svc.Address.To4() == nil {
		c.logger.Debug("ignoring non-IPv4 service",
			"name", svc.Name, "address", svc.Address.String())
		return
	}

	ds := &DiscoveredService{
		Name:    svc.Name,
		Address: svc.Address.To4(),
		Port:    svc.Port,
	}

	if err := c.Update(ctx, ds); err != nil {
		c.logger.Warn("failed to fetch discovered service",
			"name", ds.Name, "url", ds.BaseURL(), "error", err)
		c.emit(Event{Kind: ServiceError, Service: ds, Err: err})
		return
	}

	c.mu.Lock()
	c.services[ds.Key()] = ds
	c.mu.Unlock()

	c.emit(Event{Kind: ServiceUp, Service: ds})
}

// handleDown retires the corresponding tracked service.
func (c *Client) handleDown(svc discovery.Service) {
	key := svc.Key()

	c.mu.Lock()
	ds, present := c.services[key]
	delete(c.services, key)
	c.mu.Unlock()

	if !present {
		return
	}
	c.emit(Event{Kind: ServiceDown, Service: ds})
}

// Update fetches the service's root tree and HOST_INFO and replaces the
// stored snapshot.
func (c *Client) Update(ctx context.Context, ds *DiscoveredService) error {
	var rootData, infoData []byte

	fetch := func() error {
		var err error
		if rootData, err = c.get(ctx, ds.BaseURL()+"/"); err != nil {
			return err
		}
		infoData, err = c.get(ctx, ds.BaseURL()+"/?HOST_INFO")
		return err
	}
	if err := retry.Do(ctx, c.retryCfg, fetch); err != nil {
		return errors.WrapTransient(err, "Client", "Update", "tree fetch")
	}

	nodes, err := tree.Deserialize(rootData)
	if err != nil {
		return errors.Wrap(err, "Client", "Update", "tree deserialization")
	}
	info, err := tree.ParseHostInfo(infoData)
	if err != nil {
		return errors.Wrap(err, "Client", "Update", "HOST_INFO parsing")
	}

	ds.Nodes = nodes
	ds.HostInfo = info
	return nil
}

// get performs one HTTP GET and returns the body.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// emit delivers a client event without blocking discovery.
func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("client event dropped, consumer not draining",
			"kind", int(event.Kind))
	}
}
