package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores files as flat entries under a root directory.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

// Root returns the storage directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) path(location string) (string, error) {
	if err := validateLocation(location); err != nil {
		return "", err
	}
	return filepath.Join(l.root, location), nil
}

func (l *Local) Load(_ context.Context, location string) ([]byte, error) {
	p, err := l.path(location)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}

// Save writes through a temporary file so readers never see partial content.
func (l *Local) Save(_ context.Context, location string, data []byte) error {
	p, err := l.path(location)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to store %s: %w", location, err)
	}
	return nil
}

func (l *Local) Exists(_ context.Context, location string) (bool, error) {
	p, err := l.path(location)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", location, err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Delete(_ context.Context, location string) error {
	p, err := l.path(location)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", location, err)
	}
	return nil
}
