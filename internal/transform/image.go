package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	// Decoders for accepted input formats.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Image defaults
const (
	DefaultWidth         = 800
	DefaultHeight        = 600
	DefaultWatermarkText = "Processed"
	JPEGQuality          = 90
	MaxDimension         = 10000
	// MaxInputPixels bounds width*height of a decoded input.
	MaxInputPixels = 40_000_000

	watermarkMargin = 10
)

// Resize scales the image to Width x Height and encodes it as JPEG.
func Resize(ctx context.Context, input []byte, params domain.Params) ([]byte, error) {
	width := params.Int(domain.ParamWidth, DefaultWidth)
	height := params.Int(domain.ParamHeight, DefaultHeight)
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrUnsupportedOperation, width, height)
	}

	src, err := decodeImage(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return encodeJPEG(dst)
}

// Watermark draws WatermarkText in the bottom-right corner and encodes the
// image as JPEG.
func Watermark(ctx context.Context, input []byte, params domain.Params) ([]byte, error) {
	text := strings.TrimSpace(params.String(domain.ParamWatermarkText, ""))
	if text == "" {
		text = DefaultWatermarkText
	}

	src, err := decodeImage(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := flatten(src)
	drawWatermark(dst, text)
	return encodeJPEG(dst)
}

func drawWatermark(dst *image.RGBA, text string) {
	face := basicfont.Face7x13
	b := dst.Bounds()
	textWidth := font.MeasureString(face, text).Ceil()
	descent := face.Metrics().Descent.Ceil()

	x := b.Max.X - textWidth - watermarkMargin
	if x < b.Min.X {
		x = b.Min.X
	}
	y := b.Max.Y - descent - watermarkMargin
	if y < b.Min.Y+face.Metrics().Ascent.Ceil() {
		y = b.Min.Y + face.Metrics().Ascent.Ceil()
	}

	// Shadow first so the text stays legible on light backgrounds.
	shadow := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{A: 160}),
		Face: face,
		Dot:  fixed.P(x+1, y+1),
	}
	shadow.DrawString(text)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 230}),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// ConvertToJPG re-encodes the image as JPEG, flattening transparency onto white.
func ConvertToJPG(ctx context.Context, input []byte, _ domain.Params) ([]byte, error) {
	src, err := decodeImage(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return encodeJPEG(flatten(src))
}

// ConvertToPNG re-encodes the image as PNG.
func ConvertToPNG(ctx context.Context, input []byte, _ domain.Params) ([]byte, error) {
	src, err := decodeImage(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeImage sniffs and decodes an image input.
func decodeImage(input []byte) (image.Image, error) {
	mtype := mimetype.Detect(input)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: expected an image, got %s", ErrInvalidInput, mtype.String())
	}

	if err := checkBounds(input, mtype.String()); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrInvalidInput, mtype.String(), err)
	}
	return img, nil
}

// checkBounds reads the image header and rejects inputs whose decoded size
// would exceed MaxDimension or MaxInputPixels.
func checkBounds(input []byte, mtype string) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("%w: failed to read %s header: %v", ErrInvalidInput, mtype, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return fmt.Errorf("%w: input is %dx%d, limit is %d per side", ErrInvalidInput, cfg.Width, cfg.Height, MaxDimension)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxInputPixels {
		return fmt.Errorf("%w: input is %dx%d, limit is %d pixels", ErrInvalidInput, cfg.Width, cfg.Height, MaxInputPixels)
	}
	return nil
}

// flatten copies src onto an opaque white canvas.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
