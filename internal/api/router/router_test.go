package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/image-converter/internal/api/dto"
	"github.com/cuongbtq/image-converter/internal/api/handler"
	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/filestore"
	"github.com/cuongbtq/image-converter/internal/jobs"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/metrics"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/cuongbtq/image-converter/internal/transform"
	"github.com/cuongbtq/image-converter/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type refusingTransport struct {
	*queue.MemoryBroker
}

func (refusingTransport) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

type testServer struct {
	router  *gin.Engine
	store   *jobstore.Store
	broker  *queue.MemoryBroker
	inputs  *filestore.Local
	results *filestore.Local
	metrics *metrics.Metrics
}

type serverOption func(*handler.Dependencies, *jobs.Config)

func withTransport(t queue.Transport) serverOption {
	return func(_ *handler.Dependencies, cfg *jobs.Config) { cfg.Transport = t }
}

func withMaxUploadSize(n int64) serverOption {
	return func(deps *handler.Dependencies, _ *jobs.Config) { deps.MaxUploadSize = n }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	inputs, err := filestore.NewLocal(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	results, err := filestore.NewLocal(filepath.Join(t.TempDir(), "processed"))
	require.NoError(t, err)

	ts := &testServer{
		broker:  queue.NewMemoryBroker(),
		inputs:  inputs,
		results: results,
		metrics: metrics.New(),
	}
	ts.store = jobstore.New(jobstore.WithObserver(ts.metrics))

	logger := slog.New(slog.DiscardHandler)
	cfg := jobs.Config{
		Logger:    logger,
		Store:     ts.store,
		Transport: ts.broker,
		Inputs:    inputs,
		Results:   results,
		Recorder:  ts.metrics,
	}
	deps := &handler.Dependencies{
		Logger:         logger,
		MetricsHandler: ts.metrics.Handler(),
	}
	for _, opt := range opts {
		opt(deps, &cfg)
	}

	deps.Jobs, err = jobs.NewService(cfg)
	require.NoError(t, err)
	ts.router = SetupRouter(deps)
	return ts
}

func (ts *testServer) startWorkers(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, q := range domain.Queues() {
		w, err := worker.NewWorker(&worker.Config{
			Logger:      slog.New(slog.DiscardHandler),
			Queue:       q,
			Transport:   ts.broker,
			Store:       ts.store,
			Inputs:      ts.inputs,
			Results:     ts.results,
			Transformer: transform.Default(),
			Recorder:    ts.metrics,
		})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Start(ctx))
		}()
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) dto.JobResponse {
	t.Helper()

	var resp dto.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) waitTerminal(t *testing.T, id string) dto.JobResponse {
	t.Helper()

	var resp dto.JobResponse
	require.Eventually(t, func() bool {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/status/"+id, nil))
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &resp) != nil {
			return false
		}
		return resp.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"converter-service"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodOptions, "/api/documents/upload", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Disposition", w.Header().Get("Access-Control-Expose-Headers"))
}

func TestUploadResizeAndDownload(t *testing.T) {
	ts := newTestServer(t)
	ts.startWorkers(t)

	w := ts.do(uploadRequest(t, "photo.png", pngBytes(t, 64, 48), map[string]string{
		"jobType": "ResizeImage",
		"width":   "320",
		"height":  "200",
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	created := decodeJob(t, w)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "photo.png", created.OriginalFileName)
	assert.False(t, created.IsDownloadReady)

	done := ts.waitTerminal(t, created.JobID)
	require.Equal(t, domain.StatusCompleted, done.Status, done.ErrorMessage)
	assert.True(t, done.IsDownloadReady)
	assert.NotNil(t, done.CompletedAt)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/download/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "photo_processed.jpg")

	img, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestUploadFailedConversion(t *testing.T) {
	ts := newTestServer(t)
	ts.startWorkers(t)

	w := ts.do(uploadRequest(t, "notes.txt", []byte("plain text, not an image"), map[string]string{
		"jobType": "ConvertToPDF",
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decodeJob(t, w)

	done := ts.waitTerminal(t, created.JobID)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.NotEmpty(t, done.ErrorMessage)
	assert.False(t, done.IsDownloadReady)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/download/"+created.JobID, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, withMaxUploadSize(16))

	tests := []struct {
		name     string
		fileName string
		data     []byte
		fields   map[string]string
		want     int
	}{
		{
			name:   "missing file",
			fields: map[string]string{"jobType": "ResizeImage"},
			want:   http.StatusBadRequest,
		},
		{
			name:     "missing job type",
			fileName: "a.png",
			data:     []byte("x"),
			want:     http.StatusBadRequest,
		},
		{
			name:     "unknown job type",
			fileName: "a.png",
			data:     []byte("x"),
			fields:   map[string]string{"jobType": "Teleport"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "non numeric width",
			fileName: "a.png",
			data:     []byte("x"),
			fields:   map[string]string{"jobType": "ResizeImage", "width": "wide"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "zero height",
			fileName: "a.png",
			data:     []byte("x"),
			fields:   map[string]string{"jobType": "ResizeImage", "height": "0"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "empty file",
			fileName: "a.png",
			data:     nil,
			fields:   map[string]string{"jobType": "ResizeImage"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "too large",
			fileName: "a.png",
			data:     bytes.Repeat([]byte("x"), 64),
			fields:   map[string]string{"jobType": "ResizeImage"},
			want:     http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(uploadRequest(t, tt.fileName, tt.data, tt.fields))
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	assert.Zero(t, ts.store.Len())
}

func TestUploadPublishFailure(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ts := newTestServer(t, withTransport(refusingTransport{broker}))

	w := ts.do(uploadRequest(t, "a.png", pngBytes(t, 4, 4), map[string]string{"jobType": "ConvertToJPG"}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, ts.store.Len())
}

func TestStatusErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid id", "/api/documents/status/not-a-uuid", http.StatusBadRequest},
		{"unknown id", "/api/documents/status/6f1c2c0e-3d0b-4a8e-9c55-2f1d64a0b7a1", http.StatusNotFound},
		{"download unknown", "/api/documents/download/6f1c2c0e-3d0b-4a8e-9c55-2f1d64a0b7a1", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestDownloadNotReady(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(uploadRequest(t, "a.png", pngBytes(t, 4, 4), map[string]string{"jobType": "ConvertToJPG"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decodeJob(t, w)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/download/"+created.JobID, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, ts.broker.Ready(domain.QueueImageProcessing))
}

func TestDeleteJob(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(uploadRequest(t, "a.png", pngBytes(t, 4, 4), map[string]string{"jobType": "ConvertToPNG"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decodeJob(t, w)

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/api/documents/job/"+created.JobID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/status/"+created.JobID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/api/documents/job/"+created.JobID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)

	submit := func(jobType string) string {
		w := ts.do(uploadRequest(t, "a.png", pngBytes(t, 4, 4), map[string]string{"jobType": jobType}))
		require.Equal(t, http.StatusAccepted, w.Code)
		return decodeJob(t, w).JobID
	}
	submit("ConvertToPNG")
	submit("ConvertToJPG")
	submit("ConvertToPNG")

	list := func(query string) dto.ListJobsResponse {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/jobs"+query, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	all := list("")
	assert.Len(t, all.Jobs, 3)
	assert.Empty(t, all.NextCursor)

	pngs := list("?jobType=converttopng")
	assert.Len(t, pngs.Jobs, 2)

	pending := list("?status=Pending")
	assert.Len(t, pending.Jobs, 3)
	assert.Empty(t, list("?status=Completed").Jobs)

	first := list("?pageSize=2")
	require.Len(t, first.Jobs, 2)
	require.NotEmpty(t, first.NextCursor)
	second := list("?pageSize=2&cursor=" + first.NextCursor)
	require.Len(t, second.Jobs, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, j := range append(first.Jobs, second.Jobs...) {
		seen[j.JobID] = true
	}
	assert.Len(t, seen, 3)

	for _, query := range []string{"?status=Sleeping", "?jobType=Teleport", "?cursor=%25%25", "?pageSize=many"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/documents/jobs"+query, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(uploadRequest(t, "a.png", pngBytes(t, 4, 4), map[string]string{"jobType": "ConvertToPNG"}))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "converter_jobs_submitted_total")
}
