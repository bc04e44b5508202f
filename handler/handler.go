// Package handler maps a payload variant tag to the operator-supplied
// callback that performs its domain side effect. It re-architects the
// reflection-based dispatch a naive port would reach for into a closed,
// explicit registry keyed by payload.Tag: a tag with no registered
// handler is a typed error (ErrNoHandler) at dispatch time, never a
// silent no-op. Register itself does not validate tags.
package handler

import (
	"context"
	"fmt"

	"github.com/llmbx/jobqueue/payload"
)

// Func performs the domain side effect for one payload variant. An
// error return means the job failed and should be retried or
// dead-lettered per the consumer's retry policy; handlers must be
// idempotent, since redelivery (retry or reaper reclaim) is possible.
type Func func(ctx context.Context, p payload.Payload) error

// ErrNoHandler is returned by Resolve when no Func is registered for a
// tag. The consumer treats this as a configuration error: the job goes
// straight to the dead-letter queue with last_error="no handler" and is
// not retried, since retrying would hit the same missing registration.
var ErrNoHandler = fmt.Errorf("handler: no handler registered")

// Registry is a read-only-after-construction map from payload tag to
// handler. It is safe for concurrent use by many workers since nothing
// mutates it after Register calls finish at startup.
type Registry struct {
	funcs map[payload.Tag]Func
}

// NewRegistry creates an empty Registry. Call Register for every
// payload.Tag the deployment expects to handle before starting any
// workers.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[payload.Tag]Func)}
}

// Register binds fn to tag. Calling Register twice for the same tag
// replaces the previous binding; callers that want exhaustiveness
// checking should register every payload.Tag constant exactly once at
// startup and treat a second call as a bug.
func (r *Registry) Register(tag payload.Tag, fn Func) {
	r.funcs[tag] = fn
}

// Resolve returns the handler bound to tag, or ErrNoHandler if none was
// registered.
func (r *Registry) Resolve(tag payload.Tag) (Func, error) {
	fn, ok := r.funcs[tag]
	if !ok {
		return nil, fmt.Errorf("%w for tag %q", ErrNoHandler, tag)
	}
	return fn, nil
}

// MissingTags reports which of the seven known payload variants have no
// registered handler, for a startup completeness check. An operator who
// wants fatal-at-startup behavior per the handler registry's contract
// should call this after registration and exit non-zero if it returns
// anything.
func (r *Registry) MissingTags() []payload.Tag {
	all := []payload.Tag{
		payload.TagVerifySubmission,
		payload.TagRecomputeLeaderboard,
		payload.TagSyncToRegistry,
		payload.TagExportToAnalytics,
		payload.TagFinalizeProposal,
		payload.TagCleanupExpiredData,
		payload.TagSendNotification,
	}
	var missing []payload.Tag
	for _, tag := range all {
		if _, ok := r.funcs[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	return missing
}
