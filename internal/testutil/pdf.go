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

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// TestPage describes one page of a generated PDF.
type TestPage struct {
	Width  float64
	Height float64
	Rotate int
	// InheritMediaBox leaves the MediaBox on the page tree root.
	InheritMediaBox bool
}

// TestField is an AcroForm field of a generated PDF.
type TestField struct {
	Name string
	// Type is the /FT value, "Sig" when empty.
	Type string
	Kids []TestField
}

// TestPDF describes a minimal PDF document.
type TestPDF struct {
	Pages  []TestPage
	Fields []TestField
}

// A4 is a portrait A4 page.
var A4 = TestPage{Width: 595, Height: 842}

// Letter is a portrait US Letter page.
var Letter = TestPage{Width: 612, Height: 792}

// Bytes renders the document with a classic cross-reference table.
func (d TestPDF) Bytes() []byte {
	w := &pdfWriter{}

	pages := d.Pages
	if len(pages) == 0 {
		pages = []TestPage{A4}
	}

	// Fixed object numbers: 1 catalog, 2 page tree, 3 AcroForm.
	const catalogID, pagesID, acroFormID = 1, 2, 3
	next := 4

	pageIDs := make([]int, len(pages))
	contentIDs := make([]int, len(pages))
	for i := range pages {
		pageIDs[i] = next
		contentIDs[i] = next + 1
		next += 2
	}

	type fieldObj struct {
		id     int
		parent int
		name   string
		ft     string
		kids   []int
	}
	var fields []fieldObj
	var assign func(fs []TestField, parent int) []int
	assign = func(fs []TestField, parent int) []int {
		ids := make([]int, len(fs))
		for i := range fs {
			ids[i] = next
			next++
		}
		for i, f := range fs {
			obj := fieldObj{id: ids[i], parent: parent, name: f.Name}
			if len(f.Kids) > 0 {
				obj.kids = assign(f.Kids, ids[i])
			} else {
				obj.ft = f.Type
				if obj.ft == "" {
					obj.ft = "Sig"
				}
			}
			fields = append(fields, obj)
		}
		return ids
	}
	topLevel := assign(d.Fields, 0)

	w.header()

	catalog := fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R", pagesID)
	if len(topLevel) > 0 {
		catalog += fmt.Sprintf(" /AcroForm %d 0 R", acroFormID)
	}
	catalog += " >>"
	w.object(catalogID, catalog)

	tree := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d", refs(pageIDs), len(pages))
	for _, p := range pages {
		if p.InheritMediaBox {
			tree += fmt.Sprintf(" /MediaBox [0 0 %s %s]", num(p.Width), num(p.Height))
			break
		}
	}
	tree += " >>"
	w.object(pagesID, tree)

	if len(topLevel) > 0 {
		w.object(acroFormID, fmt.Sprintf("<< /Fields [%s] /SigFlags 3 >>", refs(topLevel)))
	} else {
		w.object(acroFormID, "<< /Fields [] >>")
	}

	for i, p := range pages {
		page := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << >> /Contents %d 0 R", pagesID, contentIDs[i])
		if !p.InheritMediaBox {
			page += fmt.Sprintf(" /MediaBox [0 0 %s %s]", num(p.Width), num(p.Height))
		}
		if p.Rotate != 0 {
			page += fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		page += " >>"
		w.object(pageIDs[i], page)
		w.object(contentIDs[i], "<< /Length 0 >>\nstream\n\nendstream")
	}

	for _, f := range fields {
		body := fmt.Sprintf("<< /T (%s)", f.name)
		if len(f.kids) > 0 {
			body += fmt.Sprintf(" /Kids [%s]", refs(f.kids))
		} else {
			body += " /FT /" + f.ft
		}
		if f.parent != 0 {
			body += fmt.Sprintf(" /Parent %d 0 R", f.parent)
		}
		body += " >>"
		w.object(f.id, body)
	}

	return w.finish(next, catalogID)
}

// WriteFile writes the document to path.
func (d TestPDF) WriteFile(path string) error {
	return os.WriteFile(path, d.Bytes(), 0600)
}

type pdfWriter struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func (w *pdfWriter) header() {
	w.offsets = make(map[int]int)
	w.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
}

func (w *pdfWriter) object(id int, body string) {
	w.offsets[id] = w.buf.Len()
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", id, body)
}

func (w *pdfWriter) finish(size, root int) []byte {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n", size)
	w.buf.WriteString("0000000000 65535 f \n")
	for id := 1; id < size; id++ {
		off, ok := w.offsets[id]
		if !ok {
			w.buf.WriteString("0000000000 65535 f \n")
			continue
		}
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, root, xref)
	return w.buf.Bytes()
}

func refs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d 0 R", id)
	}
	return strings.Join(parts, " ")
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
