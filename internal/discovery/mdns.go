// Package discovery finds the voice service on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

const defaultPath = "/xiaozhi/v1/"

// ErrNotFound is returned when no service answered before the timeout.
var ErrNotFound = errors.New("discovery: no service found")

// Config configures a browse.
type Config struct {
	Service string
	Domain  string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = "_xiaozhi._tcp"
	}
	if c.Domain == "" {
		c.Domain = "local"
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	return c
}

// Browser resolves the websocket endpoint of the first service that answers.
type Browser struct {
	cfg    Config
	query  func(*mdns.QueryParam) error
	logger *zap.Logger
}

func NewBrowser(cfg Config, log *zap.Logger) *Browser {
	return &Browser{
		cfg:    cfg.withDefaults(),
		query:  mdns.Query,
		logger: logger.OrNop(log).Named("discovery"),
	}
}

// Discover browses once and returns a ws:// URL. A TXT record "path=..."
// overrides the default endpoint path.
func (b *Browser) Discover(ctx context.Context) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan string, 1)
	drained := make(chan struct{})
	queryErr := make(chan error, 1)

	go func() {
		defer close(drained)
		for entry := range entries {
			url, ok := endpointURL(entry)
			if !ok {
				continue
			}
			b.logger.Info("service discovered", zap.String("name", entry.Name), zap.String("url", url))
			select {
			case found <- url:
			default:
			}
		}
	}()

	params := mdns.DefaultParams(b.cfg.Service)
	params.Domain = b.cfg.Domain
	params.Timeout = b.cfg.Timeout
	params.Entries = entries
	params.DisableIPv6 = true

	go func() {
		queryErr <- b.query(params)
		close(entries)
	}()

	select {
	case url := <-found:
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-drained:
	}
	select {
	case url := <-found:
		return url, nil
	default:
	}
	if err := <-queryErr; err != nil {
		return "", fmt.Errorf("mdns query %s: %w", b.cfg.Service, err)
	}
	return "", ErrNotFound
}

func endpointURL(entry *mdns.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port <= 0 {
		return "", false
	}
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	case entry.Host != "":
		host = strings.TrimSuffix(entry.Host, ".")
	default:
		return "", false
	}

	path := defaultPath
	for _, field := range entry.InfoFields {
		if value, ok := strings.CutPrefix(field, "path="); ok && value != "" {
			path = value
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
		}
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path, true
}
