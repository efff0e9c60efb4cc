// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pdfsign.
//
// go-pdfsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package appearance

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

var (
	// ErrNoImage is returned when an appearance carries no image.
	ErrNoImage = errors.New("appearance: no image")

	// ErrUnsupportedImage is returned for images that are not PNG or JPEG.
	ErrUnsupportedImage = errors.New("appearance: unsupported image format")
)

// Image is a decoded image header plus its raw bytes.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// LoadImage returns the appearance image, preferring in-memory bytes over
// the file path.
func LoadImage(a types.SignatureAppearance) (*Image, error) {
	data := a.ImageData
	if len(data) == 0 {
		if a.ImagePath == "" {
			return nil, ErrNoImage
		}
		var err error
		data, err = os.ReadFile(a.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("appearance: read image: %w", err)
		}
	}
	return DecodeImage(data)
}

// DecodeImage reads the header of a PNG or JPEG image.
func DecodeImage(data []byte) (*Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	return &Image{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Materialize returns a filesystem path for the appearance image so it can
// be handed to an external process. An existing ImagePath is returned as
// is; in-memory bytes are written to a uniquely named file in dir (the
// system temp directory when empty). The cleanup func removes any file
// created here and is safe to call more than once.
func Materialize(a types.SignatureAppearance, dir string) (string, func(), error) {
	noop := func() {}
	if len(a.ImageData) == 0 {
		if a.ImagePath == "" {
			return "", noop, ErrNoImage
		}
		if _, err := os.Stat(a.ImagePath); err != nil {
			return "", noop, fmt.Errorf("appearance: image: %w", err)
		}
		return a.ImagePath, noop, nil
	}

	img, err := DecodeImage(a.ImageData)
	if err != nil {
		return "", noop, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	ext := ".png"
	if img.Format == "jpeg" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, "pdfsign-stamp-"+uuid.New().String()+ext)
	if err := os.WriteFile(path, a.ImageData, 0600); err != nil {
		return "", noop, fmt.Errorf("appearance: write image: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}
