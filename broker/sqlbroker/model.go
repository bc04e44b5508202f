// Package sqlbroker is an embedded, SQL-backed broker.Broker
// implementation using bun over a pure-Go SQLite driver. It exists for
// tests and single-process deployments that would rather not stand up
// Redis: it implements the same atomic pop/lease/retry/DLQ contract
// over a single jobs table, using UPDATE ... RETURNING in place of
// native list/sorted-set/hash primitives.
package sqlbroker

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/llmbx/jobqueue/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	ID       uuid.UUID    `bun:"id,pk,type:uuid"`
	Priority job.Priority `bun:"priority,notnull"`
	Status   rowStatus    `bun:"status,notnull"`

	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ScheduledAt time.Time  `bun:"scheduled_at,notnull"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`

	LeaseToken     string     `bun:"lease_token,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`

	Raw []byte `bun:"raw,type:blob,notnull"`
}

// rowStatus is a storage-local status distinct from job.Status: the
// broker only needs to know where a row sits in the pop/lease/DLQ
// pipeline, not the full job lifecycle (that's job.Job's concern, one
// layer up).
type rowStatus uint8

const (
	rowQueued rowStatus = iota
	rowProcessing
	rowDead
)
