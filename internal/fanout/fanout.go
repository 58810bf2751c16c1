// Package fanout executes the same read operation concurrently against every
// endpoint a logical name resolves to and merges the partial results with a
// caller-supplied combiner. Per-endpoint failure is the normal case, not an
// abort: callers get the merged successes plus a failure list.
package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	toterrors "github.com/m3047/totalizer/internal/errors"
)

// Failure records one endpoint that did not produce a result.
type Failure struct {
	Endpoint Endpoint
	Err      error
}

// Engine binds a resolver with a per-endpoint timeout.
type Engine struct {
	resolver Resolver
	timeout  time.Duration
}

const defaultEndpointTimeout = 10 * time.Second

// NewEngine builds an engine. A non-positive timeout falls back to the
// default per-endpoint bound.
func NewEngine(resolver Resolver, endpointTimeout time.Duration) *Engine {
	if endpointTimeout <= 0 {
		endpointTimeout = defaultEndpointTimeout
	}
	return &Engine{resolver: resolver, timeout: endpointTimeout}
}

// Operation is the injected per-endpoint read. It is invoked once per
// resolved endpoint, each call independently bounded by the engine timeout.
type Operation[T any] func(ctx context.Context, endpoint Endpoint) (T, error)

// Do resolves name and runs op against every endpoint concurrently.
//
// combine only ever observes successful results, in completion order, so it
// must be order-independent and defined for the empty list (all endpoints
// failed). Failed endpoints come back in the failure list instead.
//
// Empty resolution returns errors.ErrResolutionEmpty: usually a naming
// misconfiguration, deliberately distinct from a transient outage. When the
// caller's ctx expires, outstanding calls are abandoned, recorded as timeout
// failures, and completed results are still merged; a deadline with zero
// successes propagates ctx's error.
func Do[T, M any](ctx context.Context, engine *Engine, name string, op Operation[T], combine func([]T) M) (M, []Failure, error) {
	var zero M

	endpoints, err := engine.resolver.Resolve(ctx, name)
	if err != nil {
		return zero, nil, err
	}
	if len(endpoints) == 0 {
		return zero, nil, toterrors.ResolutionError("fanout", name)
	}

	type outcome struct {
		endpoint Endpoint
		result   T
		err      error
	}
	outcomes := make(chan outcome, len(endpoints))

	for _, endpoint := range endpoints {
		go func(endpoint Endpoint) {
			opCtx, cancel := context.WithTimeout(ctx, engine.timeout)
			defer cancel()
			result, err := op(opCtx, endpoint)
			outcomes <- outcome{endpoint: endpoint, result: result, err: err}
		}(endpoint)
	}

	results := make([]T, 0, len(endpoints))
	var failures []Failure
	done := make(map[Endpoint]bool, len(endpoints))

collect:
	for range endpoints {
		select {
		case out := <-outcomes:
			done[out.endpoint] = true
			if out.err != nil {
				failureErr := out.err
				if errors.Is(failureErr, context.DeadlineExceeded) {
					failureErr = toterrors.TimeoutError("fanout", string(out.endpoint))
				}
				failures = append(failures, Failure{Endpoint: out.endpoint, Err: failureErr})
				log.Debug().Str("name", name).Str("endpoint", string(out.endpoint)).Err(out.err).Msg("fanout endpoint failed")
				continue
			}
			results = append(results, out.result)
		case <-ctx.Done():
			break collect
		}
	}

	// Anything still outstanding at deadline is abandoned; its eventual
	// result, if any, drains into the buffered channel and is discarded.
	for _, endpoint := range endpoints {
		if !done[endpoint] {
			failures = append(failures, Failure{Endpoint: endpoint, Err: toterrors.TimeoutError("fanout", string(endpoint))})
		}
	}

	if len(results) == 0 && ctx.Err() != nil {
		return zero, failures, ctx.Err()
	}
	return combine(results), failures, nil
}
