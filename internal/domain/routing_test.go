package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTypeTableIsExhaustive(t *testing.T) {
	require.Len(t, jobTypeTable, len(AllJobTypes()))

	for _, jt := range AllJobTypes() {
		t.Run(string(jt), func(t *testing.T) {
			assert.True(t, jt.Valid())
			assert.NotEmpty(t, jt.Queue())
			assert.NotEmpty(t, jt.Extension())
			assert.NotEmpty(t, jt.ContentType())
		})
	}
}

func TestJobTypeRouting(t *testing.T) {
	tests := []struct {
		jobType     JobType
		queue       string
		extension   string
		contentType string
	}{
		{JobTypeConvertToPDF, "document_processing", "pdf", "application/pdf"},
		{JobTypeResizeImage, "image_processing", "jpg", "image/jpeg"},
		{JobTypeAddWatermark, "image_processing", "jpg", "image/jpeg"},
		{JobTypeConvertToJPG, "image_processing", "jpg", "image/jpeg"},
		{JobTypeConvertToPNG, "image_processing", "png", "image/png"},
	}

	for _, tt := range tests {
		t.Run(string(tt.jobType), func(t *testing.T) {
			assert.Equal(t, tt.queue, tt.jobType.Queue())
			assert.Equal(t, tt.extension, tt.jobType.Extension())
			assert.Equal(t, tt.contentType, tt.jobType.ContentType())
		})
	}
}

func TestQueues(t *testing.T) {
	assert.Equal(t, []string{QueueDocumentProcessing, QueueImageProcessing}, Queues())
	assert.Equal(t, []JobType{JobTypeConvertToPDF}, JobTypesForQueue(QueueDocumentProcessing))
	assert.Len(t, JobTypesForQueue(QueueImageProcessing), 4)
	assert.Empty(t, JobTypesForQueue("unknown"))
}

func TestResultLocation(t *testing.T) {
	assert.Equal(t, "abc.pdf", ResultLocation("abc", JobTypeConvertToPDF))
	assert.Equal(t, "abc.png", ResultLocation("abc", JobTypeConvertToPNG))
}

func TestParseJobType(t *testing.T) {
	jt, err := ParseJobType("resizeimage")
	require.NoError(t, err)
	assert.Equal(t, JobTypeResizeImage, jt)

	jt, err = ParseJobType(" ConvertToPDF ")
	require.NoError(t, err)
	assert.Equal(t, JobTypeConvertToPDF, jt)

	_, err = ParseJobType("Sharpen")
	require.ErrorIs(t, err, ErrUnsupportedJobType)

	assert.False(t, JobType("Sharpen").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestCanTransition(t *testing.T) {
	statuses := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:    true,
		{StatusPending, StatusFailed}:        true,
		{StatusProcessing, StatusProcessing}: true,
		{StatusProcessing, StatusCompleted}:  true,
		{StatusProcessing, StatusFailed}:     true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
