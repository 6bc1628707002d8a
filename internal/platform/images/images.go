// Package images stores uploaded recipe photos, scaled down to a fixed width.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// DefaultWidth is the width uploaded images are scaled to.
const DefaultWidth = 800

var (
	// ErrUnsupportedType is returned for files that are not JPEG or PNG.
	ErrUnsupportedType = errors.New("invalid file type. Only JPEG, JPG, and PNG images are allowed")
	// ErrInvalidImage is returned when the upload cannot be decoded.
	ErrInvalidImage = errors.New("failed to decode image")
)

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// Saver writes images under Dir.
type Saver struct {
	Dir   string
	Width uint
}

// NewSaver creates a Saver writing to dir at DefaultWidth.
func NewSaver(dir string) *Saver {
	return &Saver{Dir: dir, Width: DefaultWidth}
}

// Extension returns the lowercased extension of filename, or
// ErrUnsupportedType when it is not an accepted image type.
func Extension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", ErrUnsupportedType
	}
	return ext, nil
}

// Save decodes imageData, resizes it and writes it as name+ext. It returns
// the file name relative to Dir.
func (s *Saver) Save(imageData []byte, name, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("unsupported image format: %s", ext)
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	width := s.Width
	if width == 0 {
		width = DefaultWidth
	}
	if uint(img.Bounds().Dx()) > width {
		img = resize.Resize(width, 0, img, resize.Lanczos3)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create images directory: %w", err)
	}

	fileName := name + ext
	out, err := os.Create(filepath.Join(s.Dir, fileName))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	switch ext {
	case ".jpeg", ".jpg":
		err = jpeg.Encode(out, img, nil)
	case ".png":
		err = png.Encode(out, img)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	return fileName, nil
}
