// Package redisbroker is the primary Broker implementation, backed by
// go-redis/v9. It stores ready jobs in one list per priority, delayed
// jobs in a sorted set scored by scheduled epoch, in-flight leases in a
// hash, and dead-lettered jobs in a list — exactly the key schema fixed
// by the wire protocol so that any Redis-compatible store (including
// miniredis, used in tests) is interchangeable.
package redisbroker

import (
	"fmt"

	"github.com/llmbx/jobqueue/job"
)

func priorityKey(prefix string, p job.Priority) string {
	return fmt.Sprintf("%s:jobs:%s", prefix, p.String())
}

func delayedKey(prefix string) string {
	return prefix + ":jobs:delayed"
}

func leasesKey(prefix string) string {
	return prefix + ":jobs:leases"
}

func dlqKey(prefix string) string {
	return prefix + ":jobs:dlq"
}

// priorityKeys returns the four priority list keys in strict dispatch
// order: Critical, High, Normal, Low.
func priorityKeys(prefix string) []string {
	keys := make([]string, len(job.Ordered))
	for i, p := range job.Ordered {
		keys[i] = priorityKey(prefix, p)
	}
	return keys
}

func priorityFromKey(prefix, key string) (job.Priority, bool) {
	for _, p := range job.Ordered {
		if priorityKey(prefix, p) == key {
			return p, true
		}
	}
	return 0, false
}
