// Package transform holds the content operations a worker can run, keyed by
// job type.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cuongbtq/image-converter/internal/domain"
)

var (
	// ErrUnsupportedOperation is returned for parameter combinations an operation cannot honor
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidInput is returned when the input bytes are not a usable file
	ErrInvalidInput = errors.New("invalid input")
)

// Transformer turns input bytes into result bytes for a job type.
type Transformer interface {
	Transform(ctx context.Context, jobType domain.JobType, input []byte, params domain.Params) ([]byte, error)
}

// Operation implements a single job type.
type Operation func(ctx context.Context, input []byte, params domain.Params) ([]byte, error)

// Registry dispatches to the Operation registered for a job type.
type Registry struct {
	ops map[domain.JobType]Operation
}

var _ Transformer = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[domain.JobType]Operation)}
}

// Default returns a registry with every built-in operation.
func Default() *Registry {
	r := NewRegistry()
	r.Register(domain.JobTypeConvertToPDF, ConvertToPDF)
	r.Register(domain.JobTypeResizeImage, Resize)
	r.Register(domain.JobTypeAddWatermark, Watermark)
	r.Register(domain.JobTypeConvertToJPG, ConvertToJPG)
	r.Register(domain.JobTypeConvertToPNG, ConvertToPNG)
	return r
}

// Register binds op to jobType, replacing any previous binding.
func (r *Registry) Register(jobType domain.JobType, op Operation) {
	r.ops[jobType] = op
}

// Supports reports whether jobType has an operation.
func (r *Registry) Supports(jobType domain.JobType) bool {
	_, ok := r.ops[jobType]
	return ok
}

// Types returns the registered job types in name order.
func (r *Registry) Types() []domain.JobType {
	types := make([]domain.JobType, 0, len(r.ops))
	for t := range r.ops {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Transform runs the operation for jobType.
func (r *Registry) Transform(ctx context.Context, jobType domain.JobType, input []byte, params domain.Params) ([]byte, error) {
	op, ok := r.ops[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: no operation for %q", domain.ErrUnsupportedJobType, jobType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}
	return op(ctx, input, params)
}
