package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage connection settings
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every location, e.g. "uploads/".
	Prefix string
}

// MinIO stores files as objects in a bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = (*MinIO)(nil)

// NewMinIOClient initializes a MinIO client
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init error: %w", err)
	}
	return client, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string, logger *slog.Logger) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("error creating bucket: %w", err)
		}
		logger.Info("Created bucket", slog.String("bucket", bucket))
		return nil
	}

	logger.Info("Bucket exists", slog.String("bucket", bucket))
	return nil
}

// NewMinIO creates a store over an existing bucket.
func NewMinIO(client *minio.Client, bucket, prefix string) *MinIO {
	return &MinIO{client: client, bucket: bucket, prefix: prefix}
}

func (m *MinIO) key(location string) (string, error) {
	if err := validateLocation(location); err != nil {
		return "", err
	}
	return m.prefix + location, nil
}

func (m *MinIO) Load(ctx context.Context, location string) ([]byte, error) {
	key, err := m.key(location)
	if err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap("get", location, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrap("read", location, err)
	}
	return data, nil
}

func (m *MinIO) Save(ctx context.Context, location string, data []byte) error {
	key, err := m.key(location)
	if err != nil {
		return err
	}

	_, err = m.client.PutObject(
		ctx,
		m.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: mimetype.Detect(data).String()},
	)
	if err != nil {
		return m.wrap("put", location, err)
	}
	return nil
}

func (m *MinIO) Exists(ctx context.Context, location string) (bool, error) {
	key, err := m.key(location)
	if err != nil {
		return false, err
	}

	_, err = m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return false, nil
	}
	if err != nil {
		return false, m.wrap("stat", location, err)
	}
	return true, nil
}

func (m *MinIO) Delete(ctx context.Context, location string) error {
	key, err := m.key(location)
	if err != nil {
		return err
	}

	err = m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return m.wrap("remove", location, err)
	}
	return nil
}

func (m *MinIO) wrap(op, location string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return fmt.Errorf("minio %s %s/%s: %w", op, m.bucket, m.prefix+location, err)
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
