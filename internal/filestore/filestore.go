// Package filestore is the byte-addressable store for job inputs and results.
// Locations are opaque flat keys generated by the job service.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a location holds no file
	ErrNotFound = errors.New("file not found")

	// ErrInvalidLocation is returned for empty or path-like locations
	ErrInvalidLocation = errors.New("invalid file location")
)

// Store loads and saves files by location.
type Store interface {
	Load(ctx context.Context, location string) ([]byte, error)
	// Save writes data to location, overwriting any previous content.
	Save(ctx context.Context, location string, data []byte) error
	Exists(ctx context.Context, location string) (bool, error)
	// Delete removes location. Deleting an absent location is not an error.
	Delete(ctx context.Context, location string) error
}

func validateLocation(location string) error {
	switch {
	case location == "", location == ".", location == "..":
		return fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	case strings.ContainsAny(location, `/\`), strings.ContainsRune(location, 0):
		return fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	return nil
}

// SanitizeName reduces an uploaded file name to a safe base name.
func SanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
