package utils

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"mime/multipart"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrInvalidImage  = errors.New("invalid image data")
	ErrInvalidBase64 = errors.New("invalid base64 image data")
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	ValidateImageFile(file *multipart.FileHeader) error
	DecodeBase64Image(encoded string) ([]byte, error)
	NormalizeFrame(imageData []byte, maxWidth, maxHeight int) ([]byte, error)
}

// DefaultMaxPixels bounds the declared size of a decoded frame.
const DefaultMaxPixels = 40_000_000

type Option func(*utils)

// WithMaxPixels rejects images whose header declares more than n pixels.
// A non-positive n keeps the default.
func WithMaxPixels(n int) Option {
	return func(u *utils) {
		if n > 0 {
			u.maxPixels = n
		}
	}
}

type utils struct {
	maxFileSize int64
	maxPixels   int
	quality     int
}

func New(opts ...Option) IUtils {
	u := &utils{
		maxFileSize: 10 * 1024 * 1024,
		maxPixels:   DefaultMaxPixels,
		quality:     90,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func (u *utils) ValidateImageFile(file *multipart.FileHeader) error {
	if file == nil {
		return errors.New("no file uploaded")
	}

	if file.Size > u.maxFileSize {
		return errors.New("file size exceeds limit")
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/octet-stream" && !strings.HasPrefix(contentType, "image/") {
		return errors.New("uploaded file is not an image")
	}

	return nil
}

// DecodeBase64Image accepts plain base64 or a data URL such as
// "data:image/jpeg;base64,...".
func (u *utils) DecodeBase64Image(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		idx := strings.Index(encoded, ",")
		if idx < 0 {
			return nil, ErrInvalidBase64
		}
		encoded = encoded[idx+1:]
	}

	if encoded == "" {
		return nil, ErrInvalidBase64
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
	}

	return data, nil
}

// NormalizeFrame decodes a JPEG, PNG, GIF or WebP image, shrinks it to fit in
// maxWidth x maxHeight keeping the aspect ratio, and re-encodes it as JPEG.
// A non-positive bound disables shrinking along that axis. The header is
// checked against the pixel budget before any pixel buffer is allocated.
func (u *utils) NormalizeFrame(imageData []byte, maxWidth, maxHeight int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > u.maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrInvalidImage, cfg.Width, cfg.Height, u.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := fitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: u.quality}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	scale := 1.0
	if maxWidth > 0 && width > maxWidth {
		scale = float64(maxWidth) / float64(width)
	}
	if maxHeight > 0 && height > maxHeight {
		if s := float64(maxHeight) / float64(height); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return width, height
	}

	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	return newWidth, newHeight
}
