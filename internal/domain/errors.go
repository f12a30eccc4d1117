package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown to the store
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when creating a job whose id already exists
	ErrDuplicateJob = errors.New("job already exists")

	// ErrInvalidTransition is returned when a status change would leave the
	// Pending -> Processing -> {Completed, Failed} path
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrMalformedMessage is returned when a delivery cannot be decoded
	ErrMalformedMessage = errors.New("malformed processing message")

	// ErrUnsupportedJobType is returned for job types a component does not handle
	ErrUnsupportedJobType = errors.New("unsupported job type")

	// ErrInputUnavailable is returned when the job input cannot be loaded
	ErrInputUnavailable = errors.New("input unavailable")

	// ErrNotReady is returned when a result is requested before completion
	ErrNotReady = errors.New("file not ready for download")

	// ErrResultMissing is returned when a completed job has no result file
	ErrResultMissing = errors.New("result file not found")
)

// MessageError wraps a decode failure together with the job id, when the id
// could still be recovered from the payload.
type MessageError struct {
	JobID string
	Err   error
}

func (e *MessageError) Error() string {
	if e.JobID == "" {
		return e.Err.Error()
	}
	return "job " + e.JobID + ": " + e.Err.Error()
}

func (e *MessageError) Unwrap() error {
	return e.Err
}
