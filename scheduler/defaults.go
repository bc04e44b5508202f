package scheduler

import (
	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/payload"
)

// DefaultEntries returns the baseline recurring jobs every deployment
// runs unless overridden: expired-session cleanup daily at 02:00,
// temp-file cleanup daily at 03:00, and old-submission archival weekly
// on Sunday at 04:00. All three run at Low priority, since none are
// latency-sensitive.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Name:      "cleanup_expired_sessions",
			Predicate: Daily(2, 0),
			Priority:  job.Low,
			Payload: func() payload.Payload {
				return &payload.CleanupExpiredData{
					CleanupType:   payload.CleanupExpiredSessions,
					OlderThanDays: 7,
				}
			},
		},
		{
			Name:      "cleanup_temp_files",
			Predicate: Daily(3, 0),
			Priority:  job.Low,
			Payload: func() payload.Payload {
				return &payload.CleanupExpiredData{
					CleanupType:   payload.CleanupTempFiles,
					OlderThanDays: 1,
				}
			},
		},
		{
			Name:      "cleanup_old_submissions",
			Predicate: Weekly(0, 4, 0),
			Priority:  job.Low,
			Payload: func() payload.Payload {
				return &payload.CleanupExpiredData{
					CleanupType:   payload.CleanupOldSubmissions,
					OlderThanDays: 90,
				}
			},
		},
	}
}
