package transform

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

func init() {
	// Keep pdfcpu from creating a configuration directory on first use.
	pdfapi.DisableConfigDir()
}

// ConvertToPDF wraps an image in a single-page PDF document.
func ConvertToPDF(ctx context.Context, input []byte, _ domain.Params) ([]byte, error) {
	mtype := mimetype.Detect(input)

	var page []byte
	switch {
	case mtype.Is("image/jpeg"), mtype.Is("image/png"):
		if err := checkBounds(input, mtype.String()); err != nil {
			return nil, err
		}
		page = input
	default:
		// pdfcpu embeds JPEG and PNG directly; anything else is re-encoded.
		img, err := decodeImage(input)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		page = buf.Bytes()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := pdfapi.ImportImages(nil, &out, []io.Reader{bytes.NewReader(page)}, nil, nil); err != nil {
		return nil, fmt.Errorf("%w: pdf import failed: %v", ErrInvalidInput, err)
	}
	return out.Bytes(), nil
}
