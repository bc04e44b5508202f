package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/job"
)

// Broker is a broker.Broker backed by a Redis (or Redis-protocol
// compatible, e.g. miniredis in tests) client.
type Broker struct {
	client redis.UniversalClient
	prefix string
	log    *slog.Logger
}

// New constructs a Broker using client, namespacing every key under
// prefix as fixed by the wire protocol (prefix:jobs:*).
func New(client redis.UniversalClient, prefix string, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{client: client, prefix: prefix, log: log}
}

var _ broker.Broker = (*Broker)(nil)

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("redisbroker: %w: %v", broker.ErrUnavailable, err)
}

func (b *Broker) Push(ctx context.Context, priority job.Priority, jobID string, raw []byte) error {
	if err := b.client.RPush(ctx, priorityKey(b.prefix, priority), raw).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) PushBatch(ctx context.Context, items []broker.PushItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.RPush(ctx, priorityKey(b.prefix, item.Priority), item.Raw)
		}
		return nil
	})
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Schedule(ctx context.Context, priority job.Priority, jobID string, raw []byte, at time.Time) error {
	member := priority.String() + "|" + string(raw)
	z := redis.Z{Score: float64(at.Unix()), Member: member}
	if err := b.client.ZAdd(ctx, delayedKey(b.prefix), z).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// peekID extracts the "id" field from a job wire envelope without
// fully decoding the payload, so a corrupt envelope can still be
// detected and routed to the dead-letter queue without a lease.
func peekID(raw []byte) (string, bool) {
	var head struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false
	}
	if head.ID == uuid.Nil {
		return "", false
	}
	return head.ID.String(), true
}

func (b *Broker) BlockingPop(ctx context.Context, timeout time.Duration, visibility time.Duration) ([]byte, *broker.Lease, error) {
	res, err := b.client.BLPop(ctx, timeout, priorityKeys(b.prefix)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, wrapErr(err)
	}
	// BLPop returns [key, value].
	key, raw := res[0], []byte(res[1])

	priority, ok := priorityFromKey(b.prefix, key)
	if !ok {
		return nil, nil, fmt.Errorf("redisbroker: popped from unrecognized key %q", key)
	}

	jobID, ok := peekID(raw)
	if !ok {
		return raw, nil, nil
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(visibility).UTC()
	_, err = leaseScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix)},
		jobID, priority.String(), expiresAt.Unix(), token, string(raw),
	).Result()
	if err != nil {
		return nil, nil, wrapErr(err)
	}

	lease := &broker.Lease{
		Token:     token,
		JobID:     jobID,
		Priority:  priority,
		ExpiresAt: expiresAt,
	}
	return raw, lease, nil
}

func (b *Broker) PopDue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC().Unix()
	res, err := popDueScript.Run(ctx, b.client,
		[]string{delayedKey(b.prefix)},
		now, limit, b.prefix,
	).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return toInt(res), nil
}

func (b *Broker) ExtendLease(ctx context.Context, lease *broker.Lease, visibility time.Duration) error {
	newExpiry := time.Now().Add(visibility).UTC().Unix()
	res, err := extendLeaseScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix)},
		lease.JobID, lease.Token, newExpiry,
	).Result()
	if err != nil {
		return wrapErr(err)
	}
	if toInt(res) == 0 {
		return broker.ErrLeaseLost
	}
	lease.ExpiresAt = time.Unix(newExpiry, 0).UTC()
	return nil
}

func (b *Broker) Ack(ctx context.Context, lease *broker.Lease) error {
	res, err := ackScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix)},
		lease.JobID, lease.Token,
	).Result()
	if err != nil {
		return wrapErr(err)
	}
	if toInt(res) == 0 {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) Release(ctx context.Context, lease *broker.Lease, raw []byte, at time.Time) error {
	now := time.Now().UTC().Unix()
	res, err := releaseScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix), delayedKey(b.prefix)},
		lease.JobID, lease.Token, string(raw), lease.Priority.String(), now, at.UTC().Unix(), b.prefix,
	).Result()
	if err != nil {
		return wrapErr(err)
	}
	if toInt(res) == 0 {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) DeadLetter(ctx context.Context, lease *broker.Lease, raw []byte) error {
	res, err := deadLetterScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix), dlqKey(b.prefix)},
		lease.JobID, lease.Token, string(raw),
	).Result()
	if err != nil {
		return wrapErr(err)
	}
	if toInt(res) == 0 {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) DeadLetterRaw(ctx context.Context, raw []byte) error {
	if err := b.client.RPush(ctx, dlqKey(b.prefix), raw).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) ScanExpired(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC().Unix()
	res, err := scanExpiredScript.Run(ctx, b.client,
		[]string{leasesKey(b.prefix)},
		now, limit, b.prefix,
	).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	reclaimed := toInt(res)
	if reclaimed > 0 {
		b.log.Info("leases reclaimed", "event", "reap", "count", reclaimed)
	}
	return reclaimed, nil
}

func (b *Broker) Depth(ctx context.Context, priority job.Priority) (int64, error) {
	n, err := b.client.LLen(ctx, priorityKey(b.prefix, priority)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (b *Broker) DelayedDepth(ctx context.Context) (int64, error) {
	n, err := b.client.ZCard(ctx, delayedKey(b.prefix)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (b *Broker) DeadLetterDepth(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, dlqKey(b.prefix)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (b *Broker) Clear(ctx context.Context, priority job.Priority) error {
	if err := b.client.Del(ctx, priorityKey(b.prefix, priority)).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func toInt(res any) int {
	switch v := res.(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
