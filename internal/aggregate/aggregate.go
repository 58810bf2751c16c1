// Package aggregate turns a logical "total(search-spec, window)" request into
// fanned-out backend pattern queries and reduces the decoded counters into
// per-group totals.
package aggregate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/m3047/totalizer/internal/bucket"
	"github.com/m3047/totalizer/internal/fanout"
	"github.com/m3047/totalizer/internal/rkv"
)

// Wildcard is the "don't care" marker emitted into backend key patterns.
const Wildcard = "*"

// SearchSpec selects which counters to aggregate. Empty fields are "don't
// care" and are wildcarded; the bucket timestamp is always wildcarded.
type SearchSpec struct {
	Prefix  string
	Matched string
	Source  string
}

// Pattern renders the glob pattern passed to the backend KEYS operation.
func (s SearchSpec) Pattern() string {
	fields := []string{s.Prefix, s.Matched, s.Source, Wildcard}
	for i, field := range fields[:3] {
		if field == "" {
			fields[i] = Wildcard
		}
	}
	return strings.Join(fields, bucket.Separator)
}

// GroupBy chooses the combination key a decoded counter contributes to.
type GroupBy func(bucket.Key) string

var (
	ByMatched = GroupBy(func(k bucket.Key) string { return k.Matched })
	BySource  = GroupBy(func(k bucket.Key) string { return k.Source })
	BySourceMatched = GroupBy(func(k bucket.Key) string {
		return k.Source + "," + k.Matched
	})
)

// Totals maps combination keys to summed counts. No ordering guarantee.
type Totals map[string]int64

// Client aggregates bucketed counters across every endpoint behind a fanout
// name.
type Client struct {
	engine *fanout.Engine
	reader rkv.Reader
	now    func() time.Time
}

// New builds an aggregation client over the given engine and per-endpoint
// read capability.
func New(engine *fanout.Engine, reader rkv.Reader) *Client {
	return &Client{engine: engine, reader: reader, now: time.Now}
}

// SetClock injects a time source for deterministic window tests.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// Total fans the spec's pattern out to every endpoint behind name,
// enumerates matching keys, decodes them, drops buckets outside
// [now-window, now], reads each surviving counter, and sums by group across
// endpoints. Failed endpoints are reported alongside the merged totals;
// duplicate sources reachable through more than one endpoint are summed.
func (c *Client) Total(ctx context.Context, name string, spec SearchSpec, window time.Duration, groupBy GroupBy) (Totals, []fanout.Failure, error) {
	now := c.now().Unix()
	floor := now - int64(window/time.Second)
	pattern := spec.Pattern()

	op := func(ctx context.Context, endpoint fanout.Endpoint) (map[string]int64, error) {
		return c.endpointTotals(ctx, endpoint, pattern, floor, now, groupBy)
	}
	merged, failures, err := fanout.Do(ctx, c.engine, name, op, fanout.SumByKey)
	if err != nil {
		return nil, failures, err
	}
	return merged, failures, nil
}

// TotalWithTrend additionally computes totals over the most recent subWindow
// slice so callers can render trend ratios.
func (c *Client) TotalWithTrend(ctx context.Context, name string, spec SearchSpec, subWindow, window time.Duration, groupBy GroupBy) (totals, recent Totals, failures []fanout.Failure, err error) {
	totals, failures, err = c.Total(ctx, name, spec, window, groupBy)
	if err != nil {
		return nil, nil, failures, err
	}
	recent, recentFailures, err := c.Total(ctx, name, spec, subWindow, groupBy)
	if err != nil {
		return nil, nil, failures, err
	}
	failures = append(failures, recentFailures...)
	return totals, recent, failures, nil
}

// endpointTotals runs KEYS + per-key GET against one endpoint and reduces to
// per-group sums. Malformed keys are logged and skipped: they cannot be
// decoded exactly, so counting them would corrupt the aggregate.
func (c *Client) endpointTotals(ctx context.Context, endpoint fanout.Endpoint, pattern string, floor, ceiling int64, groupBy GroupBy) (map[string]int64, error) {
	raws, err := c.reader.Keys(ctx, string(endpoint), pattern)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	for _, raw := range raws {
		key, err := bucket.Decode(raw)
		if err != nil {
			log.Warn().Str("endpoint", string(endpoint)).Str("key", raw).Msg("skipping undecodable counter key")
			continue
		}
		if key.Start < floor || key.Start > ceiling {
			continue
		}

		value, err := c.reader.Get(ctx, string(endpoint), raw)
		if err != nil {
			// The key expired between KEYS and GET, or the read failed;
			// either way this bucket contributes nothing.
			log.Debug().Str("endpoint", string(endpoint)).Str("key", raw).Err(err).Msg("counter read failed")
			continue
		}
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			log.Warn().Str("endpoint", string(endpoint)).Str("key", raw).Str("value", value).Msg("skipping non-numeric counter value")
			continue
		}
		totals[groupBy(key)] += count
	}
	return totals, nil
}

// MaxTrend caps reported trend ratios, matching the reporting tools this
// aggregation feeds.
const MaxTrend = 9.99

// Trend is the ratio of counts in the recent sub-window to counts in the
// full window, clamped to MaxTrend. A group absent from the full window
// reports MaxTrend: everything it has is recent.
func Trend(total, recent int64) float64 {
	if total <= 0 {
		if recent <= 0 {
			return 0
		}
		return MaxTrend
	}
	ratio := float64(recent) / float64(total)
	if ratio > MaxTrend {
		return MaxTrend
	}
	return ratio
}
