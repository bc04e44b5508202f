package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llmbx/jobqueue/payload"
)

// wireEnvelope is the stable, self-describing on-the-wire shape of a
// Job. Payload is split into a tag and raw data so that decoding can
// construct the right concrete payload.Payload type before unmarshaling
// into it, mirroring a tagged union: {"payload_type": ...,
// "payload_data": ...}.
type wireEnvelope struct {
	ID          uuid.UUID       `json:"id"`
	PayloadTag  payload.Tag     `json:"payload_type"`
	PayloadData json.RawMessage `json:"payload_data"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	RetryCount  uint32          `json:"retry_count"`
	MaxRetries  uint32          `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Encode serializes j into the stable wire envelope. Encode/Decode round
// trip losslessly: decoding bytes produced by Encode always yields a Job
// deep-equal to the original (module GLOSSARY property R1).
func Encode(j *Job) ([]byte, error) {
	if j.Payload == nil {
		return nil, fmt.Errorf("job: cannot encode job %s with nil payload", j.ID)
	}
	data, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("job: marshal payload: %w", err)
	}
	env := wireEnvelope{
		ID:          j.ID,
		PayloadTag:  j.Payload.Tag(),
		PayloadData: data,
		Priority:    j.Priority,
		Status:      j.Status,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		CreatedAt:   j.CreatedAt,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		LastError:   j.LastError,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("job: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode deserializes raw into a Job. An unrecognized payload tag
// returns a typed error rather than a panic: malformed wire data is an
// operational condition (route the job to the dead-letter queue), not a
// programming bug.
func Decode(raw []byte) (*Job, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("job: unmarshal envelope: %w", err)
	}
	p, err := payload.New(env.PayloadTag)
	if err != nil {
		return nil, fmt.Errorf("job: decode payload: %w", err)
	}
	if len(env.PayloadData) > 0 {
		if err := json.Unmarshal(env.PayloadData, p); err != nil {
			return nil, fmt.Errorf("job: unmarshal payload data: %w", err)
		}
	}
	return &Job{
		ID:          env.ID,
		Payload:     p,
		Priority:    env.Priority,
		Status:      env.Status,
		RetryCount:  env.RetryCount,
		MaxRetries:  env.MaxRetries,
		CreatedAt:   env.CreatedAt,
		ScheduledAt: env.ScheduledAt,
		StartedAt:   env.StartedAt,
		CompletedAt: env.CompletedAt,
		LastError:   env.LastError,
	}, nil
}
