package sqlbroker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/llmbx/jobqueue/broker"
	"github.com/llmbx/jobqueue/job"
)

// pollInterval bounds how often BlockingPop retries its non-blocking
// atomic claim query while waiting for a row to become eligible. SQLite
// has no native blocking-pop primitive, so this backend approximates
// one with short polling instead — the one deliberate deviation from
// the Redis backend's true BLPOP.
const pollInterval = 25 * time.Millisecond

// Broker is a broker.Broker backed by a SQL database through bun.
type Broker struct {
	db *bun.DB
}

// New wraps an already-connected, already-initialized (see InitDB) bun
// database as a Broker.
func New(db *bun.DB) *Broker {
	return &Broker{db: db}
}

var _ broker.Broker = (*Broker)(nil)

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("sqlbroker: %w: %v", broker.ErrUnavailable, err)
}

func isAffected(res sql.Result) bool {
	rows, err := res.RowsAffected()
	if err != nil {
		return true
	}
	return rows != 0
}

func (b *Broker) insert(ctx context.Context, priority job.Priority, jobID string, raw []byte, at time.Time) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	model := &jobModel{
		ID:          id,
		Priority:    priority,
		Status:      rowQueued,
		CreatedAt:   now,
		ScheduledAt: at,
		Raw:         raw,
	}
	if _, err := b.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Push(ctx context.Context, priority job.Priority, jobID string, raw []byte) error {
	return b.insert(ctx, priority, jobID, raw, time.Now().UTC())
}

func (b *Broker) Schedule(ctx context.Context, priority job.Priority, jobID string, raw []byte, at time.Time) error {
	return b.insert(ctx, priority, jobID, raw, at)
}

func (b *Broker) PushBatch(ctx context.Context, items []broker.PushItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]*jobModel, len(items))
	for i, item := range items {
		id, err := uuid.Parse(item.JobID)
		if err != nil {
			id = uuid.New()
		}
		models[i] = &jobModel{
			ID:          id,
			Priority:    item.Priority,
			Status:      rowQueued,
			CreatedAt:   now,
			ScheduledAt: now,
			Raw:         item.Raw,
		}
	}
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&models).Exec(ctx)
		return err
	})
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

// claim runs the atomic UPDATE-subquery-RETURNING pattern: pick the
// highest-priority, earliest-scheduled eligible row and flip it to
// Processing in one statement, so no two concurrent pollers can claim
// the same row.
func (b *Broker) claim(ctx context.Context, visibility time.Duration) (*jobModel, error) {
	now := time.Now().UTC()
	token := uuid.NewString()
	expiresAt := now.Add(visibility)

	subQuery := b.db.NewSelect().
		Model((*jobModel)(nil)).
		Column("id").
		Where("status = ?", rowQueued).
		Where("scheduled_at <= ?", now).
		Order("priority DESC", "scheduled_at ASC").
		Limit(1)

	var rows []*jobModel
	_, err := b.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", rowProcessing).
		Set("started_at = ?", now).
		Set("lease_token = ?", token).
		Set("lease_expires_at = ?", expiresAt).
		Where("id IN (?)", subQuery).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (b *Broker) BlockingPop(ctx context.Context, timeout time.Duration, visibility time.Duration) ([]byte, *broker.Lease, error) {
	deadline := time.Now().Add(timeout)
	for {
		row, err := b.claim(ctx, visibility)
		if err != nil {
			return nil, nil, err
		}
		if row != nil {
			lease := &broker.Lease{
				Token:     row.LeaseToken,
				JobID:     row.ID.String(),
				Priority:  row.Priority,
				ExpiresAt: *row.LeaseExpiresAt,
			}
			return row.Raw, lease, nil
		}
		if time.Now().After(deadline) {
			return nil, nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// PopDue is a no-op for this backend: eligibility already factors
// scheduled_at <= now directly into claim's WHERE clause, so there is
// no separate delayed-set promotion step to perform.
func (b *Broker) PopDue(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (b *Broker) ExtendLease(ctx context.Context, lease *broker.Lease, visibility time.Duration) error {
	id, err := uuid.Parse(lease.JobID)
	if err != nil {
		return fmt.Errorf("sqlbroker: bad job id %q: %w", lease.JobID, err)
	}
	now := time.Now().UTC()
	newExpiry := now.Add(visibility)
	res, err := b.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("lease_expires_at = ?", newExpiry).
		Where("id = ?", id).
		Where("status = ?", rowProcessing).
		Where("lease_token = ?", lease.Token).
		Exec(ctx)
	if err != nil {
		return wrapErr(err)
	}
	if !isAffected(res) {
		return broker.ErrLeaseLost
	}
	lease.ExpiresAt = newExpiry
	return nil
}

func (b *Broker) Ack(ctx context.Context, lease *broker.Lease) error {
	id, err := uuid.Parse(lease.JobID)
	if err != nil {
		return fmt.Errorf("sqlbroker: bad job id %q: %w", lease.JobID, err)
	}
	res, err := b.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("id = ?", id).
		Where("status = ?", rowProcessing).
		Where("lease_token = ?", lease.Token).
		Exec(ctx)
	if err != nil {
		return wrapErr(err)
	}
	if !isAffected(res) {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) Release(ctx context.Context, lease *broker.Lease, raw []byte, at time.Time) error {
	id, err := uuid.Parse(lease.JobID)
	if err != nil {
		return fmt.Errorf("sqlbroker: bad job id %q: %w", lease.JobID, err)
	}
	res, err := b.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", rowQueued).
		Set("scheduled_at = ?", at.UTC()).
		Set("raw = ?", raw).
		Set("lease_token = ?", "").
		Set("lease_expires_at = ?", nil).
		Set("started_at = ?", nil).
		Where("id = ?", id).
		Where("status = ?", rowProcessing).
		Where("lease_token = ?", lease.Token).
		Exec(ctx)
	if err != nil {
		return wrapErr(err)
	}
	if !isAffected(res) {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) DeadLetter(ctx context.Context, lease *broker.Lease, raw []byte) error {
	id, err := uuid.Parse(lease.JobID)
	if err != nil {
		return fmt.Errorf("sqlbroker: bad job id %q: %w", lease.JobID, err)
	}
	res, err := b.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", rowDead).
		Set("raw = ?", raw).
		Set("lease_token = ?", "").
		Set("lease_expires_at = ?", nil).
		Where("id = ?", id).
		Where("status = ?", rowProcessing).
		Where("lease_token = ?", lease.Token).
		Exec(ctx)
	if err != nil {
		return wrapErr(err)
	}
	if !isAffected(res) {
		return broker.ErrLeaseLost
	}
	return nil
}

func (b *Broker) DeadLetterRaw(ctx context.Context, raw []byte) error {
	now := time.Now().UTC()
	model := &jobModel{
		ID:          uuid.New(),
		Priority:    job.Normal,
		Status:      rowDead,
		CreatedAt:   now,
		ScheduledAt: now,
		Raw:         raw,
	}
	if _, err := b.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) ScanExpired(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	subQuery := b.db.NewSelect().
		Model((*jobModel)(nil)).
		Column("id").
		Where("status = ?", rowProcessing).
		Where("lease_expires_at <= ?", now).
		Order("lease_expires_at ASC").
		Limit(limit)

	var rows []*jobModel
	_, err := b.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", rowQueued).
		Set("scheduled_at = ?", now).
		Set("lease_token = ?", "").
		Set("lease_expires_at = ?", nil).
		Set("started_at = ?", nil).
		Where("id IN (?)", subQuery).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return 0, wrapErr(err)
	}
	return len(rows), nil
}

func (b *Broker) Depth(ctx context.Context, priority job.Priority) (int64, error) {
	now := time.Now().UTC()
	n, err := b.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("status = ?", rowQueued).
		Where("priority = ?", priority).
		Where("scheduled_at <= ?", now).
		Count(ctx)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int64(n), nil
}

func (b *Broker) DelayedDepth(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	n, err := b.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("status = ?", rowQueued).
		Where("scheduled_at > ?", now).
		Count(ctx)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int64(n), nil
}

func (b *Broker) DeadLetterDepth(ctx context.Context) (int64, error) {
	n, err := b.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("status = ?", rowDead).
		Count(ctx)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int64(n), nil
}

func (b *Broker) Clear(ctx context.Context, priority job.Priority) error {
	_, err := b.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("status = ?", rowQueued).
		Where("priority = ?", priority).
		Exec(ctx)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (b *Broker) Close() error {
	return b.db.Close()
}
