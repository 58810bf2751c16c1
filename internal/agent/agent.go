// Package agent implements the ingestion side: UDP listeners accepting
// line-oriented datagrams, classification, and best-effort counter
// increments against the backend. A single backend failure drops that one
// event and nothing else; the listener loops never block on it.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/m3047/totalizer/internal/bucket"
	"github.com/m3047/totalizer/internal/classify"
	"github.com/m3047/totalizer/internal/errors"
	"github.com/m3047/totalizer/internal/logging"
	"github.com/m3047/totalizer/internal/rkv"
)

// Config carries the agent's operating parameters. Validated once by New;
// immutable afterwards.
type Config struct {
	ListenAddrs   []string      // one UDP receive loop per address
	Source        string        // identifier for this producing instance
	Ring          bucket.Ring   // bucket rotation and TTL
	StatsInterval time.Duration // 0 disables the periodic summary
	LogKeys       bool          // log every composed key (diagnostic/test mode)
}

const maxDatagram = 65536

// Agent owns the listeners and translates matched lines into backend
// increments.
type Agent struct {
	cfg        Config
	classifier *classify.Classifier
	store      rkv.Store
	stats      Stats
	now        func() time.Time

	mu        sync.Mutex
	listeners []net.PacketConn

	ready chan struct{}
}

// New validates the configuration and builds an agent. The backend store is
// injected: a live backend in production, an in-memory sink in test mode.
func New(cfg Config, classifier *classify.Classifier, store rkv.Store) (*Agent, error) {
	if len(cfg.ListenAddrs) == 0 {
		return nil, errors.ConfigErrorf("agent", "no listen addresses configured")
	}
	if cfg.Source == "" {
		return nil, errors.ConfigErrorf("agent", "source identifier is required")
	}
	if _, err := bucket.KeyFor("probe", "probe", cfg.Source, bucket.Ring{Width: time.Second, Count: 1, TTL: time.Second}, time.Unix(0, 0)); err != nil {
		return nil, err
	}
	if err := cfg.Ring.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil || classifier.Rules() == 0 {
		return nil, errors.ConfigErrorf("agent", "classifier with at least one rule is required")
	}
	if store == nil {
		return nil, errors.ConfigErrorf("agent", "backend store is required")
	}
	return &Agent{
		cfg:        cfg,
		classifier: classifier,
		store:      store,
		now:        time.Now,
		ready:      make(chan struct{}),
	}, nil
}

// SetClock injects a time source for deterministic bucket tests.
func (a *Agent) SetClock(now func() time.Time) {
	a.now = now
}

// Stats exposes the diagnostic counters.
func (a *Agent) Stats() *Stats {
	return &a.stats
}

// Ready is closed once every listener is bound.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Addrs returns the bound listener addresses. Valid after Ready.
func (a *Agent) Addrs() []net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	addrs := make([]net.Addr, 0, len(a.listeners))
	for _, pc := range a.listeners {
		addrs = append(addrs, pc.LocalAddr())
	}
	return addrs
}

// Run binds the configured listeners and serves until ctx is cancelled.
// Each listen endpoint gets an independent receive loop; loops run in
// parallel and share only the atomic diagnostic counters.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.mu.Lock()
	for _, addr := range a.cfg.ListenAddrs {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			for _, open := range a.listeners {
				open.Close()
			}
			a.listeners = nil
			a.mu.Unlock()
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		a.listeners = append(a.listeners, pc)
		log.Info().Str("addr", pc.LocalAddr().String()).Msg("listening")
	}
	listeners := append([]net.PacketConn(nil), a.listeners...)
	a.mu.Unlock()
	close(a.ready)

	for _, pc := range listeners {
		pc := pc
		g.Go(func() error {
			return a.receiveLoop(ctx, pc)
		})
	}
	if a.cfg.StatsInterval > 0 {
		g.Go(func() error {
			a.statsLoop(ctx)
			return nil
		})
	}

	// Unblock the blocking reads when the context goes away.
	g.Go(func() error {
		<-ctx.Done()
		for _, pc := range listeners {
			pc.Close()
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (a *Agent) receiveLoop(ctx context.Context, pc net.PacketConn) error {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read on %s: %w", pc.LocalAddr(), err)
		}
		a.handleDatagram(ctx, buf[:n])
	}
}

// handleDatagram splits a datagram into lines and processes each
// independently.
func (a *Agent) handleDatagram(ctx context.Context, datagram []byte) {
	for _, line := range bytes.Split(datagram, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		a.handleLine(ctx, asciify(line))
	}
}

// handleLine is the classify → key → increment path for one line.
func (a *Agent) handleLine(ctx context.Context, line string) {
	a.stats.Seen.Add(1)

	match, ok := a.classifier.Classify(line)
	if !ok {
		a.stats.Unmatched.Add(1)
		// Guarded: unmatched lines are the common case on a busy listener.
		if logging.IsLevelEnabled(zerolog.DebugLevel) {
			log.Debug().Str("line", line).Msg("no rule matched")
		}
		return
	}
	a.stats.Matched.Add(1)

	key, err := bucket.KeyFor(match.Prefix, match.Matched, a.cfg.Source, a.cfg.Ring, a.now())
	if err != nil {
		// Unreachable with a validated classifier and source; dropped rather
		// than trusted.
		log.Warn().Err(err).Str("line", line).Msg("dropping unkeyable match")
		a.stats.Unmatched.Add(1)
		return
	}
	raw := key.Encode()
	if a.cfg.LogKeys {
		log.Info().Str("key", raw).Msg("increment")
	}

	count, err := a.store.Incr(ctx, raw)
	if err != nil {
		a.stats.BackendErrors.Add(1)
		log.Error().Err(err).Str("key", raw).Msg("increment failed, event dropped")
		return
	}
	if count == 1 {
		// TTL is set only when the increment created the key; refreshing it
		// on every event would let a continuously hot bucket live forever.
		if err := a.store.Expire(ctx, raw, a.cfg.Ring.TTL); err != nil {
			a.stats.BackendErrors.Add(1)
			log.Error().Err(err).Str("key", raw).Msg("ttl set failed")
		}
	}
}

// statsLoop emits a periodic ingestion summary. It only reads the atomic
// counters, so it never blocks the receive loops.
func (a *Agent) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.stats.Snapshot()
			log.Info().
				Int64("seen", snap.Seen).
				Int64("matched", snap.Matched).
				Int64("unmatched", snap.Unmatched).
				Int64("backend_errors", snap.BackendErrors).
				Msg("ingestion statistics")
		}
	}
}

const (
	minPrintable = 32
	maxPrintable = 126
)

// asciify converts nonprintable bytes to \xNN hex escapes so arbitrary
// binary input flows through classification as plain text.
func asciify(line []byte) string {
	printable := true
	for _, b := range line {
		if b < minPrintable || b > maxPrintable {
			printable = false
			break
		}
	}
	if printable {
		return string(line)
	}

	var out bytes.Buffer
	out.Grow(len(line))
	for _, b := range line {
		if b >= minPrintable && b <= maxPrintable {
			out.WriteByte(b)
			continue
		}
		fmt.Fprintf(&out, `\x%02x`, b)
	}
	return out.String()
}

// Describe implements prometheus.Collector.
func (a *Agent) Describe(ch chan<- *prometheus.Desc) {
	a.stats.describe(ch)
}

// Collect implements prometheus.Collector.
func (a *Agent) Collect(ch chan<- prometheus.Metric) {
	a.stats.collect(ch)
}
