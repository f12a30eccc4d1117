package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the tracked state of a single job.
type Record struct {
	ID             string     `json:"job_id"`
	OriginalName   string     `json:"original_file_name"`
	InputLocation  string     `json:"input_location"`
	Type           JobType    `json:"job_type"`
	Status         Status     `json:"status"`
	Error          string     `json:"error_message,omitempty"`
	ResultLocation string     `json:"result_location,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Params         Params     `json:"parameters,omitempty"`
}

// Clone returns a deep copy that shares no mutable state with r.
func (r Record) Clone() Record {
	cp := r
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.HeartbeatAt = cloneTime(r.HeartbeatAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.Params = r.Params.Clone()
	return cp
}

// DownloadReady reports whether the job has a result to fetch.
func (r Record) DownloadReady() bool {
	return r.Status == StatusCompleted && r.ResultLocation != ""
}

// Message builds the queue message for r.
func (r Record) Message() ProcessingMessage {
	return ProcessingMessage{
		JobID:         r.ID,
		InputLocation: r.InputLocation,
		JobType:       r.Type,
		Parameters:    r.Params.Clone(),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ProcessingMessage is the payload published for each job.
type ProcessingMessage struct {
	JobID         string  `json:"job_id"`
	InputLocation string  `json:"input_location"`
	JobType       JobType `json:"job_type"`
	Parameters    Params  `json:"parameters,omitempty"`
}

// Encode serializes the message for the wire.
func (m ProcessingMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processing message: %w", err)
	}
	return body, nil
}

// DecodeMessage parses a delivery body. Failures are returned as *MessageError
// wrapping ErrMalformedMessage, carrying the job id whenever the body still
// names one.
func DecodeMessage(body []byte) (ProcessingMessage, error) {
	var msg ProcessingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ProcessingMessage{}, &MessageError{
			JobID: recoverJobID(body),
			Err:   fmt.Errorf("%w: %v", ErrMalformedMessage, err),
		}
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		return ProcessingMessage{}, &MessageError{
			Err: fmt.Errorf("%w: invalid job_id %q", ErrMalformedMessage, msg.JobID),
		}
	}

	if msg.InputLocation == "" {
		return ProcessingMessage{}, &MessageError{
			JobID: msg.JobID,
			Err:   fmt.Errorf("%w: missing input_location", ErrMalformedMessage),
		}
	}

	if !msg.JobType.Valid() {
		return ProcessingMessage{}, &MessageError{
			JobID: msg.JobID,
			Err:   fmt.Errorf("%w: %w: %q", ErrMalformedMessage, ErrUnsupportedJobType, msg.JobType),
		}
	}

	return msg, nil
}

// recoverJobID extracts a well-formed job_id from an otherwise undecodable body.
func recoverJobID(body []byte) string {
	var partial struct {
		JobID string `json:"job_id"`
	}
	// Other fields are ignored here, so only a syntax error or a non-string
	// job_id fails this decode.
	if err := json.Unmarshal(body, &partial); err != nil {
		return ""
	}
	if _, err := uuid.Parse(partial.JobID); err != nil {
		return ""
	}
	return partial.JobID
}
