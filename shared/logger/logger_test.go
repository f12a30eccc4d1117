package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNew_JSONLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{level: "debug", want: []string{"job claimed", "job completed", "result save slow", "job failed"}},
		{level: "INFO", want: []string{"job completed", "result save slow", "job failed"}},
		{level: "warning", want: []string{"result save slow", "job failed"}},
		{level: "error", want: []string{"job failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			jobLog := log.With(slog.String("job_id", "job-1"), slog.String("queue", "image_processing"))
			jobLog.Debug("job claimed")
			jobLog.Info("job completed", slog.String("result_location", "job-1.jpg"))
			jobLog.Warn("result save slow")
			jobLog.Error("job failed", slog.String("error", "decode failed"))

			entries := decodeLines(t, buf.Bytes())
			got := make([]string, 0, len(entries))
			for _, e := range entries {
				got = append(got, e["msg"].(string))
				assert.Equal(t, "job-1", e["job_id"])
				assert.Equal(t, "image_processing", e["queue"])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_ConsoleNoColor(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&Config{Level: "info", Format: "console", NoColor: true, writer: &buf})
	require.NoError(t, err)

	log.Warn("queue declared", slog.String("queue", "pdf_conversion"))

	out := buf.String()
	assert.Contains(t, out, "queue declared")
	assert.Contains(t, out, "queue=pdf_conversion")
	assert.NotContains(t, out, "\x1b[")
}

func TestNew_ConsoleColorByDefault(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&Config{Format: "console", writer: &buf})
	require.NoError(t, err)

	log.Error("job failed")
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := New(&Config{Format: "xml", writer: &bytes.Buffer{}})
	assert.ErrorContains(t, err, `unknown log format "xml"`)

	_, err = New(&Config{Level: "verbose", Format: "json", writer: &bytes.Buffer{}})
	assert.ErrorContains(t, err, `unknown log level "verbose"`)

	_, err = New(&Config{Output: filepath.Join(t.TempDir(), "missing", "app.log")})
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestNew_FileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converter.log")

	for _, msg := range []string{"first start", "second start"} {
		log, err := New(&Config{Format: "json", Output: path})
		require.NoError(t, err)

		// Loggers derived with With share the underlying file.
		log.With(slog.String("component", "sweeper")).Info(msg)
		require.NoError(t, log.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entries := decodeLines(t, data)
	require.Len(t, entries, 2)
	assert.Equal(t, "first start", entries[0]["msg"])
	assert.Equal(t, "second start", entries[1]["msg"])
	assert.Equal(t, "sweeper", entries[1]["component"])
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	log, err := New(&Config{Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, log.Close())
	assert.NoError(t, log.With("k", "v").Close())
	assert.NoError(t, NewDefault().Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "Debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "fatal", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.ErrorContains(t, err, tt.in)
		} else {
			require.NoError(t, err, "level %q", tt.in)
		}
		assert.Equal(t, tt.want, got, "level %q", tt.in)
	}
}
