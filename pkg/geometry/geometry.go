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

// Package geometry converts signature placement rectangles between the
// viewer's coordinate space and the PDF document's coordinate space.
//
// View space has its origin at the top-left corner of the rendered page,
// Y grows downward and units are screen pixels at a given zoom factor.
// Document space has its origin at the bottom-left corner of the page,
// Y grows upward and units are PDF points (1/72 inch), independent of zoom.
package geometry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRotation is returned when a page rotation is not one of
	// 0, 90, 180 or 270 degrees.
	ErrInvalidRotation = errors.New("geometry: invalid rotation")

	// ErrInvalidZoom is returned when a zoom factor is zero or negative.
	ErrInvalidZoom = errors.New("geometry: zoom must be positive")
)

// PDFRect is a rectangle in document space. (X1, Y1) is the bottom-left
// corner and (X2, Y2) the top-right corner, in points.
type PDFRect struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// NewPDFRect returns a rectangle anchored at (x, y) with the given size.
func NewPDFRect(x, y, width, height float64) PDFRect {
	return PDFRect{X1: x, Y1: y, X2: x + width, Y2: y + height}
}

// Width returns the horizontal extent of the rectangle.
func (r PDFRect) Width() float64 {
	return r.X2 - r.X1
}

// Height returns the vertical extent of the rectangle.
func (r PDFRect) Height() float64 {
	return r.Y2 - r.Y1
}

// Valid reports whether the rectangle is non-inverted.
func (r PDFRect) Valid() bool {
	return r.X2 >= r.X1 && r.Y2 >= r.Y1
}

// HasArea reports whether both width and height are strictly positive.
func (r PDFRect) HasArea() bool {
	return r.Width() > 0 && r.Height() > 0
}

// Normalize returns the rectangle with its corners ordered so that
// X1 <= X2 and Y1 <= Y2.
func (r PDFRect) Normalize() PDFRect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// String implements fmt.Stringer.
func (r PDFRect) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", r.X1, r.Y1, r.X2, r.Y2)
}

// ViewRect is a rectangle in view space, in pixels.
type ViewRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns the horizontal extent of the rectangle.
func (r ViewRect) Width() float64 {
	return r.Right - r.Left
}

// Height returns the vertical extent of the rectangle.
func (r ViewRect) Height() float64 {
	return r.Bottom - r.Top
}

// ViewPoint is a single point in view space, in pixels.
type ViewPoint struct {
	X float64
	Y float64
}

// DocumentPoint is a single point in document space, in points.
type DocumentPoint struct {
	X float64
	Y float64
}

// ViewToDocument converts a view rectangle drawn on a page rendered at
// zoom into a document rectangle on a page of the given height.
func ViewToDocument(r ViewRect, pageHeight, zoom float64) (PDFRect, error) {
	if zoom <= 0 {
		return PDFRect{}, fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	return PDFRect{
		X1: r.Left / zoom,
		Y1: pageHeight - r.Bottom/zoom,
		X2: r.Right / zoom,
		Y2: pageHeight - r.Top/zoom,
	}, nil
}

// DocumentToView is the inverse of ViewToDocument.
func DocumentToView(r PDFRect, pageHeight, zoom float64) (ViewRect, error) {
	if zoom <= 0 {
		return ViewRect{}, fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	return ViewRect{
		Left:   r.X1 * zoom,
		Top:    (pageHeight - r.Y2) * zoom,
		Right:  r.X2 * zoom,
		Bottom: (pageHeight - r.Y1) * zoom,
	}, nil
}

// ViewPointToDocument converts a single click position into document space.
func ViewPointToDocument(p ViewPoint, pageHeight, zoom float64) (DocumentPoint, error) {
	if zoom <= 0 {
		return DocumentPoint{}, fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	return DocumentPoint{
		X: p.X / zoom,
		Y: pageHeight - p.Y/zoom,
	}, nil
}

// AdjustForRotation maps a rectangle expressed in the unrotated page's
// coordinate space onto a page rotated clockwise by rotation degrees.
// Only 0, 90, 180 and 270 are accepted.
func AdjustForRotation(r PDFRect, pageWidth, pageHeight float64, rotation int) (PDFRect, error) {
	switch rotation {
	case 0:
		return r, nil
	case 90:
		return PDFRect{
			X1: r.Y1,
			Y1: pageWidth - r.X2,
			X2: r.Y2,
			Y2: pageWidth - r.X1,
		}, nil
	case 180:
		return PDFRect{
			X1: pageWidth - r.X2,
			Y1: pageHeight - r.Y2,
			X2: pageWidth - r.X1,
			Y2: pageHeight - r.Y1,
		}, nil
	case 270:
		return PDFRect{
			X1: pageHeight - r.Y2,
			Y1: r.X1,
			X2: pageHeight - r.Y1,
			Y2: r.X2,
		}, nil
	default:
		return PDFRect{}, fmt.Errorf("%w: %d", ErrInvalidRotation, rotation)
	}
}
