// Package bucket defines the counter keyspace: how a (prefix, matched,
// source, time) tuple maps to a durable backend key and a TTL.
//
// Keys use the text encoding <prefix>;<matched>;<source>;<start_ts>. The
// separator is reserved: fields containing it are rejected, because the
// encoding has to be exactly reversible for aggregation to recover the
// original tuple.
package bucket

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m3047/totalizer/internal/errors"
)

// Separator delimits key fields. It may not appear inside any field value.
const Separator = ";"

// Key identifies one bucketed counter.
type Key struct {
	Prefix  string // totalizer namespace
	Matched string // classified event category
	Source  string // producing instance
	Start   int64  // Unix time of the bucket boundary
}

// Encode renders the backend key text. Inverse of Decode.
func (k Key) Encode() string {
	return strings.Join([]string{k.Prefix, k.Matched, k.Source, strconv.FormatInt(k.Start, 10)}, Separator)
}

func (k Key) String() string {
	return k.Encode()
}

// Decode parses a raw backend key back into its fields. Malformed keys are
// rejected rather than partially recovered: aggregation correctness depends
// on exact field recovery.
func Decode(raw string) (Key, error) {
	parts := strings.Split(raw, Separator)
	if len(parts) != 4 {
		return Key{}, errors.ParseError("decode", fmt.Errorf("%w: %q has %d fields, want 4", errors.ErrMalformedKey, raw, len(parts)))
	}
	start, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Key{}, errors.ParseError("decode", fmt.Errorf("%w: %q has non-numeric bucket timestamp", errors.ErrMalformedKey, raw))
	}
	return Key{Prefix: parts[0], Matched: parts[1], Source: parts[2], Start: start}, nil
}

// Ring describes the set of time windows a source rotates through. Older
// buckets age out via backend TTL, never explicit deletion; that is what lets
// the counter stream survive agent restarts without coordination.
type Ring struct {
	Width time.Duration // width of one bucket
	Count int           // live buckets per counter
	TTL   time.Duration // backend expiry applied when a key is created
}

// Validate checks the ring invariants. The TTL must cover a full ring so
// buckets survive until superseded. Bucket boundaries are Unix seconds, so the
// width must be a positive whole number of seconds.
func (r Ring) Validate() error {
	if r.Width <= 0 {
		return errors.ConfigErrorf("ring", "bucket width must be positive, got %s", r.Width)
	}
	if r.Width%time.Second != 0 {
		return errors.ConfigErrorf("ring", "bucket width must be a whole number of seconds, got %s", r.Width)
	}
	if r.Count < 1 {
		return errors.ConfigErrorf("ring", "bucket count must be at least 1, got %d", r.Count)
	}
	if r.TTL < r.Width*time.Duration(r.Count) {
		return errors.ConfigErrorf("ring", "ttl %s shorter than width %s * count %d", r.TTL, r.Width, r.Count)
	}
	return nil
}

// Start returns the bucket boundary for now: floor(unix(now)/width)*width.
func (r Ring) Start(now time.Time) int64 {
	width := int64(r.Width / time.Second)
	return now.Unix() / width * width
}

// KeyFor builds the counter key for an event observed at now. Pure and
// deterministic; errors if any field contains the reserved separator.
func KeyFor(prefix, matched, source string, ring Ring, now time.Time) (Key, error) {
	for _, field := range [...]struct{ name, value string }{
		{"prefix", prefix},
		{"matched", matched},
		{"source", source},
	} {
		if strings.Contains(field.value, Separator) {
			return Key{}, errors.ConfigErrorf("key", "%s %q contains reserved separator %q", field.name, field.value, Separator)
		}
	}
	return Key{Prefix: prefix, Matched: matched, Source: source, Start: ring.Start(now)}, nil
}
