package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/image-converter/internal/api/dto"
	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobs"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadSize bounds multipart uploads
const DefaultMaxUploadSize int64 = 100 << 20

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           *jobs.Service
	MaxUploadSize  int64
	MetricsHandler http.Handler
	// MetricsPath defaults to /metrics
	MetricsPath string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	jobs          *jobs.Service
	maxUploadSize int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	limit := deps.MaxUploadSize
	if limit <= 0 {
		limit = DefaultMaxUploadSize
	}
	return &JobHandler{
		logger:        deps.Logger,
		jobs:          deps.Jobs,
		maxUploadSize: limit,
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrResultMissing):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrEmptyInput), errors.Is(err, domain.ErrUnsupportedJobType):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrInputTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, queue.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged
// and not echoed to the client.
func (h *JobHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	if status == http.StatusServiceUnavailable {
		msg = "job queue unavailable, try again later"
	}
	_ = c.Error(err)
	c.JSON(status, dto.ErrorResponse{Error: msg})
}
