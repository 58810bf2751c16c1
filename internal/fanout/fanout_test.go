package fanout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3047/totalizer/internal/errors"
)

func threeEndpoints() Static {
	return Static{
		"counters.example.com": {"ep1", "ep2", "ep3"},
	}
}

func TestDoMergesAllEndpoints(t *testing.T) {
	engine := NewEngine(threeEndpoints(), time.Second)

	op := func(ctx context.Context, ep Endpoint) (map[string]int64, error) {
		return map[string]int64{"/a,200": 1, string(ep): 10}, nil
	}

	merged, failures, err := Do(context.Background(), engine, "counters.example.com", op, SumByKey)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, map[string]int64{"/a,200": 3, "ep1": 10, "ep2": 10, "ep3": 10}, merged)
}

func TestDoOrderIndependent(t *testing.T) {
	engine := NewEngine(threeEndpoints(), time.Second)

	// Stagger completion so arrival order differs from declaration order.
	delays := map[Endpoint]time.Duration{"ep1": 30 * time.Millisecond, "ep2": 0, "ep3": 15 * time.Millisecond}
	op := func(ctx context.Context, ep Endpoint) (map[string]int64, error) {
		time.Sleep(delays[ep])
		return map[string]int64{"total": 1}, nil
	}

	merged, failures, err := Do(context.Background(), engine, "counters.example.com", op, SumByKey)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, int64(3), merged["total"])
}

func TestDoPartialFailure(t *testing.T) {
	engine := NewEngine(threeEndpoints(), 50*time.Millisecond)

	op := func(ctx context.Context, ep Endpoint) (map[string]int64, error) {
		if ep == "ep2" {
			<-ctx.Done() // simulate an endpoint that never answers
			return nil, ctx.Err()
		}
		return map[string]int64{"total": 1}, nil
	}

	merged, failures, err := Do(context.Background(), engine, "counters.example.com", op, SumByKey)
	require.NoError(t, err, "partial failure is not an error")
	assert.Equal(t, int64(2), merged["total"])
	require.Len(t, failures, 1)
	assert.Equal(t, Endpoint("ep2"), failures[0].Endpoint)
}

func TestDoResolutionEmpty(t *testing.T) {
	engine := NewEngine(Static{}, time.Second)

	op := func(ctx context.Context, ep Endpoint) (bool, error) { return true, nil }
	_, _, err := Do(context.Background(), engine, "nonexistent.name", op, All)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolutionEmpty)
}

func TestDoDeadlineAbandonsOutstanding(t *testing.T) {
	engine := NewEngine(threeEndpoints(), time.Second)

	op := func(ctx context.Context, ep Endpoint) (map[string]int64, error) {
		if ep == "ep1" {
			return map[string]int64{"total": 1}, nil
		}
		select {
		case <-time.After(5 * time.Second):
			return map[string]int64{"total": 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	merged, failures, err := Do(ctx, engine, "counters.example.com", op, SumByKey)
	require.NoError(t, err, "completed results still merge at deadline")
	assert.Equal(t, int64(1), merged["total"])
	require.Len(t, failures, 2)
	for _, failure := range failures {
		assert.ErrorIs(t, failure.Err, errors.ErrTimeout)
	}
}

func TestDoDeadlineWithZeroSuccesses(t *testing.T) {
	engine := NewEngine(threeEndpoints(), time.Second)

	op := func(ctx context.Context, ep Endpoint) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, failures, err := Do(ctx, engine, "counters.example.com", op, All)
	require.Error(t, err)
	assert.Len(t, failures, 3)
}

func TestDoCombineSeesEmptyListWhenAllFail(t *testing.T) {
	engine := NewEngine(threeEndpoints(), time.Second)

	op := func(ctx context.Context, ep Endpoint) (map[string]int64, error) {
		return nil, fmt.Errorf("connection refused")
	}

	merged, failures, err := Do(context.Background(), engine, "counters.example.com", op, SumByKey)
	require.NoError(t, err, "all-failed without deadline is a partial result, not an error")
	assert.Empty(t, merged)
	assert.Len(t, failures, 3)
}

func TestStaticResolverDedupes(t *testing.T) {
	static := Static{"name": {"ep1", "ep2", "ep1", "ep3", "ep2"}}
	endpoints, err := static.Resolve(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{"ep1", "ep2", "ep3"}, endpoints)
}

func TestDNSResolverClose(t *testing.T) {
	// The refresh loop must terminate on Close rather than ticking forever.
	withRefresh := NewDNS(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	withRefresh.Close()

	// A resolver built without a refresh loop still closes cleanly.
	NewDNS(0).Close()
}

func TestCombiners(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Union([][]string{{"b", "a"}, {"c", "a"}}))
	assert.Empty(t, Union(nil))

	assert.Equal(t, []string{"a"}, Intersection([][]string{{"b", "a"}, {"c", "a", "a"}}))
	assert.Empty(t, Intersection(nil))

	assert.True(t, All(nil))
	assert.True(t, All([]bool{true, true}))
	assert.False(t, All([]bool{true, false}))

	assert.False(t, Any(nil))
	assert.True(t, Any([]bool{false, true}))

	assert.Equal(t, []int{1, 2}, Collect([]int{1, 2}))
}
