package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  string
		ok    bool
	}{
		{name: "ipv4 default path", entry: &mdns.ServiceEntry{AddrV4: net.ParseIP("192.168.1.5"), Port: 8000}, want: "ws://192.168.1.5:8000/xiaozhi/v1/", ok: true},
		{name: "txt path", entry: &mdns.ServiceEntry{AddrV4: net.ParseIP("10.0.0.2"), Port: 80, InfoFields: []string{"ver=1", "path=ws/v2"}}, want: "ws://10.0.0.2:80/ws/v2", ok: true},
		{name: "ipv6", entry: &mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 9000}, want: "ws://[fe80::1]:9000/xiaozhi/v1/", ok: true},
		{name: "host only", entry: &mdns.ServiceEntry{Host: "box.local.", Port: 9000}, want: "ws://box.local:9000/xiaozhi/v1/", ok: true},
		{name: "no port", entry: &mdns.ServiceEntry{AddrV4: net.ParseIP("10.0.0.2")}},
		{name: "no address", entry: &mdns.ServiceEntry{Port: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := endpointURL(tt.entry)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("endpointURL=%q,%v want %q,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDiscoverReturnsFirstEntry(t *testing.T) {
	b := NewBrowser(Config{Timeout: time.Second}, nil)
	var seen *mdns.QueryParam
	b.query = func(p *mdns.QueryParam) error {
		seen = p
		p.Entries <- &mdns.ServiceEntry{Name: "broken"}
		p.Entries <- &mdns.ServiceEntry{Name: "srv", AddrV4: net.ParseIP("192.168.0.9"), Port: 8000}
		return nil
	}
	url, err := b.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover error: %v", err)
	}
	if url != "ws://192.168.0.9:8000/xiaozhi/v1/" {
		t.Fatalf("url=%q", url)
	}
	if seen.Service != "_xiaozhi._tcp" || seen.Domain != "local" || seen.Timeout != time.Second {
		t.Fatalf("query params=%+v", seen)
	}
}

func TestDiscoverNotFound(t *testing.T) {
	b := NewBrowser(Config{}, nil)
	b.query = func(*mdns.QueryParam) error { return nil }
	if _, err := b.Discover(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover error=%v, want ErrNotFound", err)
	}

	b.query = func(*mdns.QueryParam) error { return errors.New("no multicast") }
	if _, err := b.Discover(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover error=%v, want query failure", err)
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	b := NewBrowser(Config{}, nil)
	release := make(chan struct{})
	defer close(release)
	b.query = func(*mdns.QueryParam) error {
		<-release
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Discover(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Discover error=%v, want deadline", err)
	}
}
