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

// Package appearance lays out the visible stamp of a signature: the text
// lines shown inside the rectangle, the font size that fits them and the
// placement of an optional image.
package appearance

import (
	"strings"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

const (
	// DateLayout renders the signing time as dd/MM/yyyy HH:mm.
	DateLayout = "02/01/2006 15:04"

	// MinFontSize is the smallest size Layout shrinks text to.
	MinFontSize = 4.0

	// Padding is the inset between the rectangle edge and the text.
	Padding = 2.0

	// LineSpacing is the line height as a multiple of the font size.
	LineSpacing = 1.2

	// charWidth approximates the Helvetica advance width per point of
	// font size, used to truncate lines that cannot fit.
	charWidth = 0.5
)

// Line is one positioned line of stamp text. X and Y are the baseline
// origin relative to the lower-left corner of the stamp.
type Line struct {
	Text string
	X    float64
	Y    float64
}

// Layout is the computed stamp for a rectangle.
type Layout struct {
	Width    float64
	Height   float64
	FontSize float64
	Lines    []Line

	// Image is drawn behind the text, nil for text-only stamps. ImageRect
	// is its fitted placement inside the stamp.
	Image     *Image
	ImageRect geometry.PDFRect
}

// Lines returns the stamp text for an appearance. signer is shown when the
// appearance has no explicit name. Empty fields are omitted; the date is
// always last.
func Lines(a types.SignatureAppearance, signer string, now time.Time) []string {
	name := a.Name
	if name == "" {
		name = signer
	}
	var lines []string
	if name != "" {
		lines = append(lines, "Signed by: "+name)
	}
	if a.Reason != "" {
		lines = append(lines, "Reason: "+a.Reason)
	}
	if a.Location != "" {
		lines = append(lines, "Location: "+a.Location)
	}
	if a.Contact != "" {
		lines = append(lines, "Contact: "+a.Contact)
	}
	if a.IncludeDate {
		lines = append(lines, "Date: "+now.Format(DateLayout))
	}
	return lines
}

// NewLayout fits text into a width x height stamp. The font starts at
// fontSize and shrinks one point at a time until every line fits
// vertically or MinFontSize is reached; lines still too wide are
// truncated with "...".
func NewLayout(width, height float64, text []string, fontSize float64) *Layout {
	if fontSize <= 0 {
		fontSize = types.DefaultFontSize
	}
	size := fontSize
	for size > MinFontSize && textHeight(len(text), size) > height-2*Padding {
		size--
	}
	if size < MinFontSize {
		size = MinFontSize
	}

	layout := &Layout{Width: width, Height: height, FontSize: size}
	maxChars := int((width - 2*Padding) / (size * charWidth))
	for i, t := range text {
		y := height - Padding - size - float64(i)*size*LineSpacing
		if y < 0 {
			break
		}
		layout.Lines = append(layout.Lines, Line{
			Text: truncate(t, maxChars),
			X:    Padding,
			Y:    y,
		})
	}
	return layout
}

// ForAppearance builds the layout for a resolved appearance inside rect.
// Text is omitted for image-only stamps; WithImage adds the image.
func ForAppearance(a types.SignatureAppearance, rect geometry.PDFRect, signer string, now time.Time) *Layout {
	r := rect.Normalize()
	a = a.Resolve()

	var text []string
	if a.Kind.RendersText() {
		text = Lines(a, signer, now)
	}
	return NewLayout(r.Width(), r.Height(), text, float64(a.FontSize))
}

// WithImage places img in the layout, scaled uniformly to fit and centered.
// A nil image clears it.
func (l *Layout) WithImage(img *Image) *Layout {
	if img == nil {
		l.Image, l.ImageRect = nil, geometry.PDFRect{}
		return l
	}
	l.Image = img
	l.ImageRect = Fit(float64(img.Width), float64(img.Height), l.Width, l.Height)
	return l
}

// Text joins the laid out lines.
func (l *Layout) Text() string {
	parts := make([]string, len(l.Lines))
	for i, line := range l.Lines {
		parts[i] = line.Text
	}
	return strings.Join(parts, "\n")
}

// Fit scales a w x h box uniformly into boxW x boxH and centers it.
func Fit(w, h, boxW, boxH float64) geometry.PDFRect {
	if w <= 0 || h <= 0 || boxW <= 0 || boxH <= 0 {
		return geometry.PDFRect{}
	}
	scale := boxW / w
	if s := boxH / h; s < scale {
		scale = s
	}
	sw, sh := w*scale, h*scale
	x := (boxW - sw) / 2
	y := (boxH - sh) / 2
	return geometry.PDFRect{X1: x, Y1: y, X2: x + sw, Y2: y + sh}
}

func textHeight(lines int, size float64) float64 {
	if lines == 0 {
		return 0
	}
	return size + float64(lines-1)*size*LineSpacing
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
