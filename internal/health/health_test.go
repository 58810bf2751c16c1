package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3047/totalizer/internal/errors"
	"github.com/m3047/totalizer/internal/fanout"
	"github.com/m3047/totalizer/internal/rkv"
)

func testEngine(endpoints ...fanout.Endpoint) *fanout.Engine {
	return fanout.NewEngine(fanout.Static{"redis.example.com": endpoints}, time.Second)
}

func TestCheckFanoutNameExpectation(t *testing.T) {
	cluster := rkv.NewMemoryCluster()
	cluster.Endpoint("redis.athena.example.com").Set("health", "redis.athena.example.com")
	cluster.Endpoint("redis.flame.example.com").Set("health", "wrong-value")
	// redis.sophia.example.com has no health key at all.

	engine := testEngine("redis.athena.example.com", "redis.flame.example.com", "redis.sophia.example.com")
	statuses, err := Check(context.Background(), engine, cluster, "redis.example.com", "", ExpectFanoutName())
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, fanout.Endpoint("redis.athena.example.com"), statuses[0].Endpoint)
	assert.True(t, statuses[0].Readable)
	assert.True(t, statuses[0].Valid)

	assert.Equal(t, fanout.Endpoint("redis.flame.example.com"), statuses[1].Endpoint)
	assert.True(t, statuses[1].Readable)
	assert.False(t, statuses[1].Valid)

	assert.Equal(t, fanout.Endpoint("redis.sophia.example.com"), statuses[2].Endpoint)
	assert.False(t, statuses[2].Readable)
	assert.False(t, statuses[2].Valid)
	assert.Error(t, statuses[2].Err)
}

func TestCheckLiteralAndNoCheck(t *testing.T) {
	cluster := rkv.NewMemoryCluster()
	cluster.Endpoint("ep1").Set("health", "ok")
	cluster.Endpoint("ep2").Set("health", "whatever")

	engine := testEngine("ep1", "ep2")

	statuses, err := Check(context.Background(), engine, cluster, "redis.example.com", "health", ExpectLiteral("ok"))
	require.NoError(t, err)
	assert.True(t, statuses[0].Valid)
	assert.False(t, statuses[1].Valid)

	statuses, err = Check(context.Background(), engine, cluster, "redis.example.com", "health", ExpectNoCheck())
	require.NoError(t, err)
	assert.True(t, statuses[0].Valid)
	assert.True(t, statuses[1].Valid)
}

func TestCheckAbandonedEndpointStillGetsRow(t *testing.T) {
	cluster := rkv.NewMemoryCluster()
	cluster.Endpoint("ep1").Set("health", "ok")

	slow := &stuckReader{Reader: cluster, stuckEndpoint: "ep2"}
	engine := testEngine("ep1", "ep2")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	statuses, err := Check(ctx, engine, slow, "redis.example.com", "health", ExpectLiteral("ok"))
	require.NoError(t, err)
	require.Len(t, statuses, 2, "every instance gets a row, abandoned or not")

	assert.Equal(t, fanout.Endpoint("ep1"), statuses[0].Endpoint)
	assert.True(t, statuses[0].Readable)
	assert.True(t, statuses[0].Valid)

	assert.Equal(t, fanout.Endpoint("ep2"), statuses[1].Endpoint)
	assert.False(t, statuses[1].Readable)
	assert.False(t, statuses[1].Valid)
	assert.ErrorIs(t, statuses[1].Err, errors.ErrTimeout)
}

func TestCheckResolutionEmpty(t *testing.T) {
	engine := testEngine() // no endpoints
	_, err := Check(context.Background(), engine, rkv.NewMemoryCluster(), "redis.example.com", "", ExpectNoCheck())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolutionEmpty)
}

// stuckReader never answers for one endpoint, outlasting any test deadline so
// the engine is forced to abandon it.
type stuckReader struct {
	rkv.Reader
	stuckEndpoint string
}

func (r *stuckReader) Get(ctx context.Context, endpoint, key string) (string, error) {
	if endpoint == r.stuckEndpoint {
		<-time.After(3 * time.Second)
		return "", context.DeadlineExceeded
	}
	return r.Reader.Get(ctx, endpoint, key)
}

func TestExpectationTrailingDotsAndCase(t *testing.T) {
	expect := ExpectFanoutName()
	assert.True(t, expect.Valid("Redis.Athena.Example.Com.", "redis.athena.example.com"))
	assert.True(t, expect.Valid("redis.athena.example.com", "redis.athena.example.com."))
	assert.False(t, expect.Valid("redis.athena.example.com", "redis.flame.example.com"))
}
