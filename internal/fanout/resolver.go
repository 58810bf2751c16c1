package fanout

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/dnscache"

	toterrors "github.com/m3047/totalizer/internal/errors"
)

// Endpoint identifies one concrete backend instance behind a logical name.
type Endpoint string

// Resolver turns a logical fanout name into the ordered set of endpoints it
// currently covers. Resolution happens on every fanout call so membership
// changes are picked up without restart.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]Endpoint, error)
}

// Static resolves names from a fixed table. Used for config-driven
// deployments and tests.
type Static map[string][]Endpoint

func (s Static) Resolve(ctx context.Context, name string) ([]Endpoint, error) {
	return dedupe(s[name]), nil
}

// DNS resolves names through the system resolver with a short-lived cache so
// repeated fanout calls don't hammer the nameserver. The cache only bounds
// lookup rate; endpoint membership is still re-read once per refresh
// interval.
type DNS struct {
	cache *dnscache.Resolver
	stop  chan struct{}
}

// NewDNS builds a caching DNS resolver refreshing on the given interval.
// Close stops the refresh loop.
func NewDNS(refresh time.Duration) *DNS {
	resolver := &DNS{cache: &dnscache.Resolver{}, stop: make(chan struct{})}
	if refresh > 0 {
		go func() {
			ticker := time.NewTicker(refresh)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					resolver.cache.Refresh(true)
				case <-resolver.stop:
					return
				}
			}
		}()
	}
	return resolver
}

// Close stops the background refresh goroutine. Safe on a resolver built
// without one; must be called at most once.
func (d *DNS) Close() {
	close(d.stop)
}

func (d *DNS) Resolve(ctx context.Context, name string) ([]Endpoint, error) {
	hosts, err := d.cache.LookupHost(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			// Nonexistent names surface as empty resolution, which the
			// engine reports distinctly from transient lookup failure.
			return nil, nil
		}
		return nil, toterrors.BackendError("resolve", name, err)
	}

	endpoints := make([]Endpoint, 0, len(hosts))
	for _, host := range hosts {
		endpoints = append(endpoints, Endpoint(host))
	}
	return dedupe(endpoints), nil
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(endpoints []Endpoint) []Endpoint {
	seen := make(map[Endpoint]bool, len(endpoints))
	out := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}
