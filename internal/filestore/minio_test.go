package filestore

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinIO_Key(t *testing.T) {
	m := NewMinIO(nil, "jobs", "results/")

	key, err := m.key("abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "results/abc.jpg", key)

	_, err = m.key("../abc.jpg")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestMinIO_WrapClassifiesMissingKeys(t *testing.T) {
	m := NewMinIO(nil, "jobs", "uploads/")

	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true},
		{"head 404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"network", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.wrap("get", "a.png", tt.err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
			if !tt.notFound {
				assert.Contains(t, err.Error(), "jobs/uploads/a.png")
			}
		})
	}
}
