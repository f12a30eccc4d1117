package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JobType identifies the transformation requested for a job.
type JobType string

const (
	JobTypeConvertToPDF JobType = "ConvertToPDF"
	JobTypeResizeImage  JobType = "ResizeImage"
	JobTypeAddWatermark JobType = "AddWatermark"
	JobTypeConvertToJPG JobType = "ConvertToJPG"
	JobTypeConvertToPNG JobType = "ConvertToPNG"
)

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Queue names
const (
	QueueDocumentProcessing = "document_processing"
	QueueImageProcessing    = "image_processing"
)

// Parameter keys understood by the transformers
const (
	ParamWidth         = "Width"
	ParamHeight        = "Height"
	ParamWatermarkText = "WatermarkText"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllJobTypes returns every job type in declaration order.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeConvertToPDF,
		JobTypeResizeImage,
		JobTypeAddWatermark,
		JobTypeConvertToJPG,
		JobTypeConvertToPNG,
	}
}

// ParseJobType resolves a job type name, ignoring case.
func ParseJobType(s string) (JobType, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllJobTypes() {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedJobType, s)
}

// Valid reports whether t is one of the declared job types.
func (t JobType) Valid() bool {
	_, ok := jobTypeTable[t]
	return ok
}

func (t *JobType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("job type must be a string: %w", err)
	}
	parsed, err := ParseJobType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CanTransition reports whether a job may move from one status to another.
// Processing -> Processing is a reclaim after redelivery. Pending -> Failed
// covers deliveries rejected before the job was claimed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	}
	return false
}
