package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/cuongbtq/image-converter/internal/api/dto"
	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobs"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead is the allowance for form fields and boundaries on top of
// the file size limit.
const multipartOverhead = 1 << 20

const maxPageSize = 100

// Upload handles POST /api/documents/upload
// Stores the file and queues a conversion job for it
func (h *JobHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)

	var req dto.UploadRequest
	if err := c.ShouldBind(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondError(c, jobs.ErrInputTooLarge)
			return
		}
		h.logger.Warn("Invalid upload form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid form: " + err.Error()})
		return
	}

	jobType, err := domain.ParseJobType(req.JobType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, jobs.ErrEmptyInput)
		return
	}
	if header.Size > h.maxUploadSize {
		h.respondError(c, fmt.Errorf("%w: %d bytes exceeds %d", jobs.ErrInputTooLarge, header.Size, h.maxUploadSize))
		return
	}

	file, err := header.Open()
	if err != nil {
		h.respondError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	h.logger.Info("Upload received",
		slog.String("file_name", header.Filename),
		slog.String("job_type", string(jobType)),
		slog.String("detected_type", mimetype.Detect(data).String()),
		slog.Int64("size", header.Size),
	)

	rec, err := h.jobs.Submit(c.Request.Context(), jobs.SubmitRequest{
		Name:   header.Filename,
		Data:   data,
		Type:   jobType,
		Params: req.Params(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.FromRecord(rec))
}

// GetStatus handles GET /api/documents/status/:job_id
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	rec, err := h.jobs.Get(jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(rec))
}

// ListJobs handles GET /api/documents/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	if req.PageSize < 0 {
		req.PageSize = 0
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	var (
		jobType domain.JobType
		status  domain.Status
	)
	if req.JobType != "" {
		if jobType, err = domain.ParseJobType(req.JobType); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Status != "" {
		if status, err = parseStatus(req.Status); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}

	records := filterRecords(h.jobs.List(), jobType, status)
	page, next := paginate(records, cursor, req.PageSize)

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.FromRecords(page),
		NextCursor: next,
	})
}

// Download handles GET /api/documents/download/:job_id
// Streams the result of a completed job as an attachment
func (h *JobHandler) Download(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	result, err := h.jobs.Result(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": result.FileName})
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// DeleteJob handles DELETE /api/documents/job/:job_id
// Removes the job record and its files
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// jobID reads and validates the job_id path parameter.
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

func parseStatus(s string) (domain.Status, error) {
	for _, status := range []domain.Status{
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusCompleted,
		domain.StatusFailed,
	} {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func filterRecords(recs []domain.Record, jobType domain.JobType, status domain.Status) []domain.Record {
	if jobType == "" && status == "" {
		return recs
	}
	out := recs[:0]
	for _, rec := range recs {
		if jobType != "" && rec.Type != jobType {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	return out
}
