package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status values reported by Probe.Check.
const (
	StatusDisabled    = "disabled"
	StatusOK          = "OK"
	StatusUnavailable = "unavailable"
)

const defaultPingTimeout = 2 * time.Second

// Probe checks reachability of the reserved cache service.
// A Probe built from an empty address reports StatusDisabled.
type Probe struct {
	client  *redis.Client
	timeout time.Duration
}

// NewProbe parses a redis:// URL. An empty address yields a disabled probe.
func NewProbe(address string) (*Probe, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Probe{}, nil
	}
	opts, errParse := redis.ParseURL(address)
	if errParse != nil {
		return nil, fmt.Errorf("parse cache url: %w", errParse)
	}
	opts.MaxRetries = -1
	return &Probe{client: redis.NewClient(opts), timeout: defaultPingTimeout}, nil
}

// Enabled reports whether a cache address was configured.
func (p *Probe) Enabled() bool {
	return p != nil && p.client != nil
}

// Check pings the cache service and returns a status string for /health.
func (p *Probe) Check(ctx context.Context) string {
	if !p.Enabled() {
		return StatusDisabled
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if errPing := p.client.Ping(pingCtx).Err(); errPing != nil {
		return StatusUnavailable
	}
	return StatusOK
}

// Close releases the underlying connection pool.
func (p *Probe) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.client.Close()
}
