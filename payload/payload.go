// Package payload defines the closed set of job payload variants the
// core dispatches on. Each variant is plain data; the behavior that acts
// on it lives in operator-supplied handlers (see package handler), never
// in this package. The set is closed deliberately: adding a variant
// means a new Tag constant, type and New case here, an entry in
// handler.MissingTags, and one handler registration; an unknown tag
// arriving over the wire is a typed error (ErrUnknownTag) rather than a
// silent no-op.
package payload

import (
	"errors"
	"fmt"
)

// ErrUnknownTag is returned, wrapped, by New for a tag outside the
// closed variant set, so callers can detect it with errors.Is.
var ErrUnknownTag = errors.New("payload: unknown tag")

// Tag identifies a payload variant on the wire. It is the discriminant
// of the tagged envelope codec lives in job/codec.go.
type Tag string

const (
	TagVerifySubmission     Tag = "verify_submission"
	TagRecomputeLeaderboard Tag = "recompute_leaderboard"
	TagSyncToRegistry       Tag = "sync_to_registry"
	TagExportToAnalytics    Tag = "export_to_analytics"
	TagFinalizeProposal     Tag = "finalize_proposal"
	TagCleanupExpiredData   Tag = "cleanup_expired_data"
	TagSendNotification     Tag = "send_notification"
)

// Payload is implemented by every job payload variant. It carries no
// behavior; Tag identifies which concrete type a decoded envelope holds.
type Payload interface {
	// Tag returns the wire discriminant for this variant.
	Tag() Tag
}

// VerifySubmission asks the verification worker to re-run judging for a
// single submission.
type VerifySubmission struct {
	SubmissionID string `json:"submission_id"`
	BenchmarkID  string `json:"benchmark_id"`
}

func (VerifySubmission) Tag() Tag { return TagVerifySubmission }

// RecomputeLeaderboard asks the leaderboard worker to rebuild standings
// for a benchmark, optionally invalidating any cached view of it.
type RecomputeLeaderboard struct {
	BenchmarkID     string `json:"benchmark_id"`
	InvalidateCache bool   `json:"invalidate_cache"`
}

func (RecomputeLeaderboard) Tag() Tag { return TagRecomputeLeaderboard }

// SyncToRegistry pushes benchmark and/or submission state to the
// external registry. SyncAll, when set, ignores BenchmarkID/SubmissionID
// and resyncs everything.
type SyncToRegistry struct {
	BenchmarkID  *string `json:"benchmark_id,omitempty"`
	SubmissionID *string `json:"submission_id,omitempty"`
	SyncAll      bool    `json:"sync_all"`
}

func (SyncToRegistry) Tag() Tag { return TagSyncToRegistry }

// ExportToAnalytics asks the sync worker to ship a date-bounded slice of
// a benchmark's data to the analytics pipeline.
type ExportToAnalytics struct {
	BenchmarkID string `json:"benchmark_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func (ExportToAnalytics) Tag() Tag { return TagExportToAnalytics }

// FinalizeProposal asks the governance worker to close voting on a
// proposal and apply its outcome.
type FinalizeProposal struct {
	ProposalID string `json:"proposal_id"`
}

func (FinalizeProposal) Tag() Tag { return TagFinalizeProposal }

// CleanupType selects which category of expired data a
// CleanupExpiredData job removes.
type CleanupType string

const (
	CleanupExpiredSessions CleanupType = "expired_sessions"
	CleanupOldSubmissions  CleanupType = "old_submissions"
	CleanupTempFiles       CleanupType = "temp_files"
	CleanupArchivedData    CleanupType = "archived_data"
)

// CleanupExpiredData asks the cleanup worker to purge data of
// CleanupType older than OlderThanDays.
type CleanupExpiredData struct {
	CleanupType   CleanupType `json:"cleanup_type"`
	OlderThanDays uint32      `json:"older_than_days"`
}

func (CleanupExpiredData) Tag() Tag { return TagCleanupExpiredData }

// NotificationRecipient selects the channel a SendNotification job
// delivers through.
type NotificationRecipient string

const (
	RecipientUser    NotificationRecipient = "user"
	RecipientEmail   NotificationRecipient = "email"
	RecipientWebhook NotificationRecipient = "webhook"
)

// NotificationType classifies the event a SendNotification job reports.
type NotificationType string

const (
	NotificationSubmissionVerified NotificationType = "submission_verified"
	NotificationSubmissionFailed   NotificationType = "submission_failed"
	NotificationProposalFinalized  NotificationType = "proposal_finalized"
	NotificationLeaderboardUpdated NotificationType = "leaderboard_updated"
	NotificationSystemAlert        NotificationType = "system_alert"
)

// SendNotification asks the notification worker to deliver a
// notification to Recipient. Metadata is opaque, handler-defined data
// (e.g. a submission ID or an alert message).
type SendNotification struct {
	Recipient        NotificationRecipient `json:"recipient"`
	NotificationType NotificationType      `json:"notification_type"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
}

func (SendNotification) Tag() Tag { return TagSendNotification }

// New constructs the zero-value Payload for tag, ready to be populated
// by a codec. An unknown tag is a wire-level error, not a panic.
func New(tag Tag) (Payload, error) {
	switch tag {
	case TagVerifySubmission:
		return &VerifySubmission{}, nil
	case TagRecomputeLeaderboard:
		return &RecomputeLeaderboard{}, nil
	case TagSyncToRegistry:
		return &SyncToRegistry{}, nil
	case TagExportToAnalytics:
		return &ExportToAnalytics{}, nil
	case TagFinalizeProposal:
		return &FinalizeProposal{}, nil
	case TagCleanupExpiredData:
		return &CleanupExpiredData{}, nil
	case TagSendNotification:
		return &SendNotification{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownTag, tag)
	}
}
