package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeServiceType(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"_oscjson._tcp", "oscjson"},
		{"oscjson", "oscjson"},
		{"_http._tcp", "http"},
		{"http", "http"},
		{"_osc._udp", "osc"},
		{"plain._tcp", "plain"},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			assert.Equal(t, test.expected, NormalizeServiceType(test.in))
		})
	}
}

func TestChoosePrimary(t *testing.T) {
	assert.Nil(t, choosePrimary(nil))

	// Prefers the common private blocks.
	ips := []net.IP{
		net.ParseIP("172.20.1.5").To4(),
		net.ParseIP("10.0.0.9").To4(),
		net.ParseIP("192.168.1.2").To4(),
	}
	assert.Equal(t, "10.0.0.9", choosePrimary(ips).String())

	// Falls back to the first non-loopback IPv4.
	ips = []net.IP{net.ParseIP("172.20.1.5").To4()}
	assert.Equal(t, "172.20.1.5", choosePrimary(ips).String())
}

func TestParseTXT(t *testing.T) {
	txt := parseTXT([]string{"txtvers=1", "path=/root", "flag", ""})
	assert.Equal(t, "1", txt["txtvers"])
	assert.Equal(t, "/root", txt["path"])

	v, ok := txt["flag"]
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "Studio", instanceName("Studio._oscjson._tcp.local."))
	assert.Equal(t, "bare", instanceName("bare."))
}

func newTestBrowser(t *testing.T) *Browser {
	t.Helper()

	b, err := NewBrowser(Options{
		Services:      []string{"oscjson"},
		QueryInterval: 50 * time.Millisecond,
		ExpireAfter:   120 * time.Millisecond,
	}, Deps{})
	require.NoError(t, err)

	// Drive entry handling directly; no network is involved.
	b.ctx, b.cancel = context.WithCancel(context.Background())
	t.Cleanup(b.cancel)
	return b
}

func TestBrowser_RequiresServices(t *testing.T) {
	_, err := NewBrowser(Options{}, Deps{})
	require.Error(t, err)
}

func TestBrowser_UpFiresOncePerAddressPort(t *testing.T) {
	b := newTestBrowser(t)

	entry := &mdns.ServiceEntry{
		Name:       "Studio._oscjson._tcp.local.",
		Host:       "studio.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8080,
		InfoFields: []string{"txtvers=1"},
	}

	b.handleEntry("oscjson", entry)
	b.handleEntry("oscjson", entry)

	require.Len(t, b.events, 1, "duplicate sightings must be suppressed")
	event := <-b.events
	assert.Equal(t, ServiceUp, event.Kind)
	assert.Equal(t, "Studio", event.Service.Name)
	assert.Equal(t, "oscjson", event.Service.Type)
	assert.Equal(t, "oscjson._tcp.local", event.Service.FullType)
	assert.Equal(t, 8080, event.Service.Port)
	assert.Equal(t, "1", event.Service.TXT["txtvers"])

	// A different port is a distinct service.
	other := *entry
	other.Port = 9090
	b.handleEntry("oscjson", &other)
	require.Len(t, b.events, 1)
	event = <-b.events
	assert.Equal(t, 9090, event.Service.Port)
}

func TestBrowser_EntriesWithoutAddressSkipped(t *testing.T) {
	b := newTestBrowser(t)

	b.handleEntry("oscjson", &mdns.ServiceEntry{Name: "NoAddr._oscjson._tcp.local.", Port: 1})
	b.handleEntry("oscjson", nil)
	assert.Empty(t, b.events)
}

func TestBrowser_ExpiryEmitsDown(t *testing.T) {
	b := newTestBrowser(t)

	entry := &mdns.ServiceEntry{
		Name:   "Gone._oscjson._tcp.local.",
		AddrV4: net.ParseIP("192.168.1.30"),
		Port:   7000,
	}
	b.handleEntry("oscjson", entry)
	<-b.events // drain the up event

	time.Sleep(150 * time.Millisecond)
	b.expire()

	require.Len(t, b.events, 1)
	event := <-b.events
	assert.Equal(t, ServiceDown, event.Kind)
	assert.Equal(t, "Gone", event.Service.Name)

	// The key is retired: the same (address, port) fires up again.
	b.handleEntry("oscjson", entry)
	require.Len(t, b.events, 1)
	event = <-b.events
	assert.Equal(t, ServiceUp, event.Kind)
}

func TestBrowser_IPv6EntryCarriesAddress(t *testing.T) {
	b := newTestBrowser(t)

	entry := &mdns.ServiceEntry{
		Name:   "Six._oscjson._tcp.local.",
		AddrV6: net.ParseIP("fe80::1"),
		Port:   8000,
	}
	b.handleEntry("oscjson", entry)

	require.Len(t, b.events, 1)
	event := <-b.events
	assert.Equal(t, ServiceUp, event.Kind)
	assert.Nil(t, event.Service.Address.To4())
}
