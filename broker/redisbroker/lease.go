package redisbroker

import (
	"encoding/json"
	"fmt"

	"github.com/llmbx/jobqueue/job"
)

// leaseRecord is the value stored in the leases hash, field-keyed by job
// id. It carries the job's origin priority (so a reclaim knows which
// list to push back onto) and the job bytes themselves (so a reclaim
// does not need a second round trip to recover them), per the broker
// protocol's field list in the external interface section.
type leaseRecord struct {
	Token          string       `json:"token"`
	OriginPriority job.Priority `json:"origin_priority"`
	ExpiresAt      int64        `json:"expires_at"`
	Raw            string       `json:"raw"`
}

func encodeLease(l leaseRecord) (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("redisbroker: encode lease: %w", err)
	}
	return string(b), nil
}

func decodeLease(s string) (leaseRecord, error) {
	var l leaseRecord
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return leaseRecord{}, fmt.Errorf("redisbroker: decode lease: %w", err)
	}
	return l, nil
}
