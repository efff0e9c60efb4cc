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

package native

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/digitorus/pdfsign"

	"github.com/jeremyhahn/go-pdfsign/pkg/appearance"
	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// Signing carries everything needed to write one signature into a PDF.
type Signing struct {
	Signer        crypto.Signer
	Certificate   *x509.Certificate
	Intermediates []*x509.Certificate

	Name     string
	Reason   string
	Location string
	Contact  string

	Visible bool
	// Page is 1-based.
	Page   int
	Rect   geometry.PDFRect
	Layout *appearance.Layout

	// Conformance selects the PAdES level; timestamp and ltv need TSAURL.
	Conformance types.ConformanceLevel
	TSAURL      string
}

// DocumentSigner writes a signed copy of the PDF read from in to out.
type DocumentSigner interface {
	SignDocument(ctx context.Context, in *os.File, out io.Writer, s *Signing) error
}

// DocumentSignerFunc adapts a function to DocumentSigner.
type DocumentSignerFunc func(ctx context.Context, in *os.File, out io.Writer, s *Signing) error

// SignDocument implements DocumentSigner.
func (f DocumentSignerFunc) SignDocument(ctx context.Context, in *os.File, out io.Writer, s *Signing) error {
	return f(ctx, in, out, s)
}

// PDFSigner is the default DocumentSigner, built on digitorus/pdfsign.
type PDFSigner struct{}

// SignDocument stages the signature at its PAdES level with an optional
// visible appearance, then writes the incremental update.
func (PDFSigner) SignDocument(ctx context.Context, in *os.File, out io.Writer, s *Signing) error {
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	doc, err := pdfsign.Open(in, info.Size())
	if err != nil {
		return err
	}

	b := doc.Sign(s.Signer, s.Certificate, s.Intermediates...)
	if s.Name != "" {
		b = b.SignerName(s.Name)
	}
	if s.Reason != "" {
		b = b.Reason(s.Reason)
	}
	if s.Location != "" {
		b = b.Location(s.Location)
	}
	if s.Contact != "" {
		b = b.Contact(s.Contact)
	}
	b = b.Format(padesFormat(s.Conformance))
	if s.Conformance.RequiresTimestamp() {
		if s.TSAURL == "" {
			return fmt.Errorf("conformance %q requires a timestamp authority", s.Conformance)
		}
		b = b.Timestamp(s.TSAURL)
	}
	if s.Visible && s.Layout != nil {
		r := s.Rect.Normalize()
		b.Appearance(appearance.Build(doc, s.Layout), s.Page, r.X1, r.Y1)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := doc.Write(out); err != nil {
		return fmt.Errorf("write signed document: %w", err)
	}
	return nil
}

// padesFormat maps a conformance level to the pdfsign signature format:
// basic is B-B, timestamp is B-T and ltv is B-LT, which also embeds the
// revocation data of the chain.
func padesFormat(c types.ConformanceLevel) pdfsign.Format {
	switch c {
	case types.ConformanceTimestamp:
		return pdfsign.PAdES_B_T
	case types.ConformanceLTV:
		return pdfsign.PAdES_B_LT
	default:
		return pdfsign.PAdES_B
	}
}
