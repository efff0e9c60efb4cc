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

// Package document reads the facts about a PDF the signing flow needs:
// page count, page sizes and rotation, and the names of existing
// signature fields.
package document

import (
	"errors"
	"fmt"
	"os"

	"github.com/digitorus/pdf"
)

var (
	// ErrOpen is returned when the file is not a readable PDF.
	ErrOpen = errors.New("document: cannot open PDF")

	// ErrPageOutOfRange is returned for a page index outside the document.
	ErrPageOutOfRange = errors.New("document: page out of range")
)

// PageInfo describes one page in PDF points.
type PageInfo struct {
	Index    int     `json:"index"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
}

// Document is the read-only view of a PDF used by the orchestrator.
// Pages are 0-indexed.
type Document interface {
	PageCount() int
	PageDimensions(page int) (PageInfo, error)
	SignatureFieldNames() (map[string]struct{}, error)
	Close() error
}

// Opener opens the document at path.
type Opener func(path string) (Document, error)

// PDF is a Document backed by the digitorus PDF reader.
type PDF struct {
	file   *os.File
	reader *pdf.Reader
}

// Open opens path as a PDF.
func Open(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return &PDF{file: f, reader: r}, nil
}

// PageCount returns the number of pages.
func (d *PDF) PageCount() int {
	return d.reader.NumPage()
}

// PageDimensions returns the size and rotation of a page. The size is the
// MediaBox, inherited from the page tree when absent on the page; rotation
// is normalized to 0, 90, 180 or 270.
func (d *PDF) PageDimensions(page int) (PageInfo, error) {
	if page < 0 || page >= d.PageCount() {
		return PageInfo{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, d.PageCount())
	}
	p := d.reader.Page(page + 1).V

	info := PageInfo{Index: page}
	box := inherited(p, "MediaBox")
	if box.Len() == 4 {
		x1, y1 := box.Index(0).Float64(), box.Index(1).Float64()
		x2, y2 := box.Index(2).Float64(), box.Index(3).Float64()
		info.Width = abs(x2 - x1)
		info.Height = abs(y2 - y1)
	}
	if info.Width == 0 || info.Height == 0 {
		// Letter is the PDF default page size.
		info.Width, info.Height = 612, 792
	}
	info.Rotation = normalizeRotation(int(inherited(p, "Rotate").Int64()))
	return info, nil
}

// SignatureFieldNames returns the fully qualified names of every /Sig field
// in the AcroForm.
func (d *PDF) SignatureFieldNames() (map[string]struct{}, error) {
	names := make(map[string]struct{})
	fields := d.reader.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	for i := 0; i < fields.Len(); i++ {
		collectFields(fields.Index(i), "", "", names, 0)
	}
	return names, nil
}

// Close releases the underlying file.
func (d *PDF) Close() error {
	return d.file.Close()
}

const maxFieldDepth = 32

func collectFields(v pdf.Value, parent, parentType string, names map[string]struct{}, depth int) {
	if v.IsNull() || depth > maxFieldDepth {
		return
	}
	name := parent
	if t := v.Key("T").Text(); t != "" {
		if name != "" {
			name += "."
		}
		name += t
	}
	ft := parentType
	if f := v.Key("FT").Name(); f != "" {
		ft = f
	}

	kids := v.Key("Kids")
	named := 0
	for i := 0; i < kids.Len(); i++ {
		if kids.Index(i).Key("T").Text() != "" {
			named++
		}
	}
	if named == 0 {
		if ft == "Sig" && name != "" {
			names[name] = struct{}{}
		}
		return
	}
	for i := 0; i < kids.Len(); i++ {
		collectFields(kids.Index(i), name, ft, names, depth+1)
	}
}

func inherited(page pdf.Value, key string) pdf.Value {
	for v, depth := page, 0; !v.IsNull() && depth < maxFieldDepth; v, depth = v.Key("Parent"), depth+1 {
		if x := v.Key(key); !x.IsNull() {
			return x
		}
	}
	return pdf.Value{}
}

func normalizeRotation(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	return r - r%90
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
