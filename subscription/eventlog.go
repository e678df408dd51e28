package subscription

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
)

// ClaimState is the outcome of claiming a provider event
type ClaimState int

const (
	// ClaimAcquired means the caller holds the processing lease
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another attempt holds an unexpired lease
	ClaimInFlight
	// ClaimDone means the event was already processed
	ClaimDone
)

// EventLog remembers which provider events are being or have been processed
type EventLog interface {
	// Claim takes a short processing lease on the event unless one exists
	Claim(eventID string) (ClaimState, error)
	// Complete marks the event as processed
	Complete(eventID string) error
	// Release drops the lease so a redelivery is processed again
	Release(eventID string) error
}

const (
	defaultEventLogTTL    = time.Hour * 72
	defaultEventLogLease  = time.Minute
	defaultEventLogPrefix = "stripe:event:"

	eventStateProcessing = "processing"
	eventStateDone       = "done"
)

// RedisEventLog is an EventLog backed by Redis keys with a TTL.
// A key holds "processing" for the lease duration, then "done" for ttl.
type RedisEventLog struct {
	redis  redis.UniversalClient
	ttl    time.Duration
	lease  time.Duration
	prefix string
}

// NewRedisEventLog returns a RedisEventLog. A zero ttl remembers processed events for
// 72 hours, longer than Stripe keeps retrying a delivery. A zero lease lets an attempt
// hold an event for one minute before a redelivery may take over.
func NewRedisEventLog(rdb redis.UniversalClient, ttl, lease time.Duration) (*RedisEventLog, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if ttl <= 0 {
		ttl = defaultEventLogTTL
	}
	if lease <= 0 {
		lease = defaultEventLogLease
	}
	return &RedisEventLog{
		redis:  rdb,
		ttl:    ttl,
		lease:  lease,
		prefix: defaultEventLogPrefix,
	}, nil
}

func (l *RedisEventLog) key(eventID string) string {
	return l.prefix + eventID
}

// Claim implements EventLog
func (l *RedisEventLog) Claim(eventID string) (ClaimState, error) {
	key := l.key(eventID)
	ok, err := l.redis.SetNX(key, eventStateProcessing, l.lease).Result()
	if err != nil {
		return ClaimInFlight, extErrors.Wrap(err, "Cannot claim event")
	}
	if ok {
		return ClaimAcquired, nil
	}

	state, err := l.redis.Get(key).Result()
	switch {
	case err == redis.Nil:
		// lease expired between the two calls, let the provider retry
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, extErrors.Wrap(err, "Cannot read event state")
	case state == eventStateDone:
		return ClaimDone, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete implements EventLog
func (l *RedisEventLog) Complete(eventID string) error {
	if err := l.redis.Set(l.key(eventID), eventStateDone, l.ttl).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot complete event")
	}
	return nil
}

// Release implements EventLog
func (l *RedisEventLog) Release(eventID string) error {
	if err := l.redis.Del(l.key(eventID)).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot release event")
	}
	return nil
}
