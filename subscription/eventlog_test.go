package subscription

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventLog(t *testing.T) (*RedisEventLog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	t.Cleanup(func() {
		rdb.Close()
	})
	log, err := NewRedisEventLog(rdb, time.Hour, time.Minute)
	require.NoError(t, err)
	return log, mr
}

func TestRedisEventLogClaimOnce(t *testing.T) {
	log, mr := newTestEventLog(t)

	state, err := log.Claim("evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
	assert.Equal(t, time.Minute, mr.TTL("stripe:event:evt_1"))

	state, err = log.Claim("evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, state)

	require.NoError(t, log.Complete("evt_1"))
	assert.Equal(t, time.Hour, mr.TTL("stripe:event:evt_1"))

	state, err = log.Claim("evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, state)
}

func TestRedisEventLogRelease(t *testing.T) {
	log, mr := newTestEventLog(t)

	state, err := log.Claim("evt_1")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	require.NoError(t, log.Release("evt_1"))
	assert.False(t, mr.Exists("stripe:event:evt_1"))

	state, err = log.Claim("evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestRedisEventLogLeaseExpires(t *testing.T) {
	log, mr := newTestEventLog(t)

	state, err := log.Claim("evt_2")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	// the attempt died without completing or releasing
	mr.FastForward(time.Minute + time.Second)

	state, err = log.Claim("evt_2")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestRedisEventLogDoneExpires(t *testing.T) {
	log, mr := newTestEventLog(t)

	_, err := log.Claim("evt_3")
	require.NoError(t, err)
	require.NoError(t, log.Complete("evt_3"))

	mr.FastForward(time.Hour + time.Second)

	state, err := log.Claim("evt_3")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestRedisEventLogUnavailable(t *testing.T) {
	log, mr := newTestEventLog(t)
	mr.Close()

	_, err := log.Claim("evt_4")
	assert.Error(t, err)
}

func TestNewRedisEventLogDefaults(t *testing.T) {
	_, err := NewRedisEventLog(nil, 0, 0)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	log, err := NewRedisEventLog(rdb, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultEventLogTTL, log.ttl)
	assert.Equal(t, defaultEventLogLease, log.lease)
}
