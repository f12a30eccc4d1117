package dto

import (
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
)

// UploadRequest is the multipart form of POST /api/documents/upload. The file
// itself is read separately from the "file" field.
type UploadRequest struct {
	JobType       string `form:"jobType" binding:"required"`
	Width         *int   `form:"width" binding:"omitempty,min=1"`
	Height        *int   `form:"height" binding:"omitempty,min=1"`
	WatermarkText string `form:"watermarkText"`
}

// Params converts the optional form fields to job parameters.
func (r UploadRequest) Params() domain.Params {
	params := domain.Params{}
	if r.Width != nil {
		params[domain.ParamWidth] = domain.IntValue(*r.Width)
	}
	if r.Height != nil {
		params[domain.ParamHeight] = domain.IntValue(*r.Height)
	}
	if r.WatermarkText != "" {
		params[domain.ParamWatermarkText] = domain.StringValue(r.WatermarkText)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

type ListJobsRequest struct {
	JobType  string `form:"jobType"`
	Status   string `form:"status"`
	PageSize int    `form:"pageSize"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type JobResponse struct {
	JobID            string         `json:"jobId"`
	OriginalFileName string         `json:"originalFileName"`
	JobType          domain.JobType `json:"jobType"`
	Status           domain.Status  `json:"status"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	IsDownloadReady  bool           `json:"isDownloadReady"`
	ResultPath       string         `json:"resultPath,omitempty"`
	Parameters       domain.Params  `json:"parameters,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// FromRecord maps a job record to its API representation.
func FromRecord(rec domain.Record) JobResponse {
	return JobResponse{
		JobID:            rec.ID,
		OriginalFileName: rec.OriginalName,
		JobType:          rec.Type,
		Status:           rec.Status,
		ErrorMessage:     rec.Error,
		CreatedAt:        rec.CreatedAt,
		StartedAt:        rec.StartedAt,
		CompletedAt:      rec.CompletedAt,
		IsDownloadReady:  rec.DownloadReady(),
		ResultPath:       rec.ResultLocation,
		Parameters:       rec.Params,
	}
}

// FromRecords maps a slice of records.
func FromRecords(recs []domain.Record) []JobResponse {
	out := make([]JobResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}
