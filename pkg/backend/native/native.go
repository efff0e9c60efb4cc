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

// Package native signs PDFs in-process: certificates are enumerated over
// PKCS#11, the private key is used through crypto11 and the signature is
// written by digitorus/pdfsign.
package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-pdfsign/pkg/appearance"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// Registry enumerates tokens and the signing certificates of a slot.
type Registry interface {
	ListTokens(ctx context.Context) ([]types.TokenInfo, error)
	ListCertificates(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error)
}

// Backend is the in-process signing backend.
type Backend struct {
	library string
	lister  Registry
	opener  TokenOpener
	signer  DocumentSigner
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithRegistry replaces the PKCS#11 registry.
func WithRegistry(l Registry) Option {
	return func(b *Backend) { b.lister = l }
}

// WithTokenOpener replaces the crypto11 token opener.
func WithTokenOpener(o TokenOpener) Option {
	return func(b *Backend) { b.opener = o }
}

// WithDocumentSigner replaces the pdfsign writer.
func WithDocumentSigner(s DocumentSigner) Option {
	return func(b *Backend) { b.signer = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithClock sets the time source used for the stamp date.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a native backend for the PKCS#11 library at library.
func New(library string, opts ...Option) (*Backend, error) {
	if library == "" {
		return nil, fmt.Errorf("%w: native backend requires a library path", types.ErrLibraryNotFound)
	}
	b := &Backend{
		library: library,
		opener:  OpenCrypto11,
		signer:  PDFSigner{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.DefaultLogger()
	}
	if b.lister == nil {
		b.lister = pkcs11.NewRegistry(library, pkcs11.WithLogger(b.logger))
	}
	return b, nil
}

// Type implements types.Backend.
func (b *Backend) Type() types.BackendType {
	return types.BackendNative
}

// Library returns the PKCS#11 library path.
func (b *Backend) Library() string {
	return b.library
}

// ListTokens implements types.Backend.
func (b *Backend) ListTokens(ctx context.Context) ([]types.TokenInfo, error) {
	return b.lister.ListTokens(ctx)
}

// ListCertificates implements types.Backend.
func (b *Backend) ListCertificates(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error) {
	return b.lister.ListCertificates(ctx, slot, pin)
}

// Sign implements types.Backend. The signed document is written to a
// temporary file next to the output and renamed into place only once
// signing succeeded.
func (b *Backend) Sign(ctx context.Context, req *types.SignRequest) (*types.SignatureResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := req.Config

	var tsaURL string
	if cfg.Conformance.RequiresTimestamp() {
		if req.TSAURL == "" {
			return nil, fmt.Errorf("%w: conformance %q requires a timestamp authority URL",
				types.ErrInvalidRequest, cfg.Conformance)
		}
		tsaURL = req.TSAURL
	}
	app := cfg.Appearance.Resolve()
	var img *appearance.Image
	if cfg.Visible && app.Kind.RequiresImage() {
		var err error
		if img, err = appearance.LoadImage(app); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	certs, err := b.lister.ListCertificates(ctx, req.Selector.Slot, req.PIN)
	if err != nil {
		return nil, err
	}
	cert, err := SelectCertificate(certs, req.Selector, b.now())
	if err != nil {
		return nil, err
	}
	b.logger.Debug("selected certificate",
		"label", cert.Label, "subject", cert.SubjectCN, "id", cert.KeyIDHex())

	token, err := b.opener(b.library, req.Selector.Slot, req.PIN)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := token.Close(); err != nil {
			b.logger.Warn("failed to close token", "error", err)
		}
	}()

	var id, label []byte
	if len(cert.KeyID) > 0 {
		id = cert.KeyID
	} else {
		label = []byte(cert.Label)
	}
	key, err := token.FindKeyPair(id, label)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: no private key for %s", types.ErrKeyMismatch, cert.DisplayName())
	}
	if !publicKeysMatch(key, cert) {
		return nil, fmt.Errorf("%w: private key does not belong to %s", types.ErrKeyMismatch, cert.DisplayName())
	}

	signing := &Signing{
		Signer:      key,
		Certificate: cert.Certificate,
		Name:        app.Name,
		Reason:      app.Reason,
		Location:    app.Location,
		Contact:     app.Contact,
		Visible:     cfg.Visible,
		Page:        cfg.Page + 1,
		Rect:        cfg.Position,
		Conformance: cfg.Conformance,
		TSAURL:      tsaURL,
	}
	if signing.Name == "" {
		signing.Name = cert.SubjectCN
	}
	if signing.Conformance == "" {
		signing.Conformance = types.ConformanceBasic
	}
	if cfg.Visible {
		signing.Layout = appearance.ForAppearance(app, cfg.Position, cert.SubjectCN, b.now()).WithImage(img)
	}

	if err := b.writeSigned(ctx, req.InputPath, req.OutputPath, signing); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningFailed, err)
	}

	b.logger.Info("document signed", "input", req.InputPath, "output", req.OutputPath, "signer", cert.SubjectCN)
	return &types.SignatureResult{
		Success:     true,
		InputPath:   req.InputPath,
		OutputPath:  req.OutputPath,
		Certificate: cert.Label,
		Signer:      cert.SubjectCN,
	}, nil
}

func (b *Backend) writeSigned(ctx context.Context, input, output string, s *Signing) (err error) {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(output),
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(output), uuid.New().String()))
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = b.signer.SignDocument(ctx, in, out, s); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, output)
}

var _ types.Backend = (*Backend)(nil)
