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

// Package signature is the entry point for signing PDFs with a hardware
// token. An Orchestrator validates the request against the document,
// delegates to the configured backend and normalizes the outcome.
package signature

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/correlation"
	"github.com/jeremyhahn/go-pdfsign/pkg/document"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/metrics"
	"github.com/jeremyhahn/go-pdfsign/pkg/pin"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// ErrDuplicateFieldName is returned when the requested signature field
// already exists in the document.
var ErrDuplicateFieldName = fmt.Errorf("%w: signature field already exists", types.ErrInvalidRequest)

// maxFieldNumber bounds the search for a free Signature<N> name.
const maxFieldNumber = 10000

// Orchestrator signs documents through one backend. Sign calls are
// serialized; the backend opens and closes its own token session per call.
type Orchestrator struct {
	backend types.Backend
	opener  document.Opener
	tracker *pin.Tracker
	tsaURL  string
	logger  *logging.Logger

	mu      sync.Mutex
	errMu   sync.RWMutex
	lastErr error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDocumentOpener replaces the PDF reader. A nil opener disables the
// page and field name checks.
func WithDocumentOpener(opener document.Opener) Option {
	return func(o *Orchestrator) { o.opener = opener }
}

// WithTracker counts PIN failures against tracker and refuses operations
// once it is locked.
func WithTracker(tracker *pin.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = tracker }
}

// WithTSAURL sets the timestamp authority used for timestamped levels.
func WithTSAURL(url string) Option {
	return func(o *Orchestrator) { o.tsaURL = url }
}

// New returns an Orchestrator for backend.
func New(backend types.Backend, opts ...Option) (*Orchestrator, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", types.ErrBackendUnavailable)
	}
	o := &Orchestrator{
		backend: backend,
		opener:  document.Open,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.DefaultLogger()
	}
	return o, nil
}

// Backend returns the active backend.
func (o *Orchestrator) Backend() types.Backend {
	return o.backend
}

// Tracker returns the PIN attempt tracker, or nil.
func (o *Orchestrator) Tracker() *pin.Tracker {
	return o.tracker
}

// LastError returns the error of the most recent Sign call, or nil when it
// succeeded.
func (o *Orchestrator) LastError() error {
	o.errMu.RLock()
	defer o.errMu.RUnlock()
	return o.lastErr
}

func (o *Orchestrator) setLastError(err error) {
	o.errMu.Lock()
	o.lastErr = err
	o.errMu.Unlock()
}

// Sign signs input into output with the certificate chosen by sel. A nil
// cfg signs with DefaultSignatureConfig and a generated field name. When
// the backend completes but reports failure, the unsuccessful result is
// returned together with its error.
func (o *Orchestrator) Sign(ctx context.Context, input, output, pinCode string,
	cfg *types.SignatureConfig, sel types.CertificateSelector) (*types.SignatureResult, error) {

	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, _ = correlation.Ensure(ctx)
	logger := correlation.Logger(ctx, o.logger)
	backend := o.backend.Type().String()
	start := time.Now()

	result, err := o.sign(ctx, logger, input, output, pinCode, cfg, sel)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(metrics.OpSign, backend, string(types.Kind(err)))
		logger.Error(err, "input", input)
	} else {
		logger.Info("document signed", "input", result.InputPath, "output", result.OutputPath,
			"signer", result.Signer, "certificate", result.Certificate)
	}
	metrics.RecordOperation(metrics.OpSign, backend, status, time.Since(start).Seconds())
	o.setLastError(err)
	return result, err
}

func (o *Orchestrator) sign(ctx context.Context, logger *logging.Logger, input, output, pinCode string,
	cfg *types.SignatureConfig, sel types.CertificateSelector) (*types.SignatureResult, error) {

	var c types.SignatureConfig
	if cfg == nil {
		c = *types.DefaultSignatureConfig()
		c.FieldName = ""
	} else {
		c = *cfg
	}
	if c.Conformance == "" {
		c.Conformance = types.ConformanceBasic
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	resolved := c.Appearance.Resolve()
	if resolved.Kind != c.Appearance.Kind && c.Appearance.Kind.IsValid() {
		logger.Warn("no stamp image supplied, using text appearance", "kind", c.Appearance.Kind)
	}
	c.Appearance = resolved

	if err := o.prepare(&c, input); err != nil {
		return nil, err
	}
	if c.FieldName == "" {
		c.FieldName = types.DefaultFieldName
	}
	logger.Debug("signing", "input", input, "output", output, "page", c.Page,
		"position", c.Position.String(), "field", c.FieldName, "selector", sel.String())

	if o.tracker != nil {
		if err := o.tracker.Allow(); err != nil {
			return nil, err
		}
	}

	req := &types.SignRequest{
		InputPath:  input,
		OutputPath: output,
		PIN:        pinCode,
		Selector:   sel,
		Config:     &c,
		TSAURL:     o.tsaURL,
	}
	result, err := o.backend.Sign(ctx, req)
	o.recordPIN(err)
	if err != nil {
		return nil, signingFailed(err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: backend returned no result", types.ErrSigningFailed)
	}
	if !result.Success {
		if result.Err == nil {
			result.Err = types.ErrSigningFailed
		}
		result.Err = signingFailed(result.Err)
		return result, result.Err
	}
	return result, nil
}

// prepare checks the page and settles the field name against the
// document. It is a no-op without a document opener.
func (o *Orchestrator) prepare(c *types.SignatureConfig, input string) error {
	if o.opener == nil {
		return nil
	}
	doc, err := o.opener(input)
	if err != nil {
		return signingFailed(err)
	}
	defer func() { _ = doc.Close() }()

	if c.Page >= doc.PageCount() {
		return fmt.Errorf("%w: %w: page %d of %d", types.ErrInvalidRequest,
			document.ErrPageOutOfRange, c.Page, doc.PageCount())
	}
	existing, err := doc.SignatureFieldNames()
	if err != nil {
		return signingFailed(err)
	}
	if c.FieldName == "" {
		name, err := UniqueFieldName(existing)
		if err != nil {
			return err
		}
		c.FieldName = name
		return nil
	}
	if _, ok := existing[c.FieldName]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFieldName, c.FieldName)
	}
	return nil
}

// recordPIN feeds a backend outcome into the attempt tracker.
func (o *Orchestrator) recordPIN(err error) {
	if errors.Is(err, types.ErrInvalidPIN) {
		metrics.RecordPINFailure(o.backend.Type().String())
	}
	if o.tracker != nil {
		o.tracker.Record(err)
	}
}

// GenerateUniqueFieldName returns the first Signature<N>, N from 1, that
// doc does not already use.
func GenerateUniqueFieldName(doc document.Document) (string, error) {
	existing, err := doc.SignatureFieldNames()
	if err != nil {
		return "", err
	}
	return UniqueFieldName(existing)
}

// UniqueFieldName returns the first Signature<N>, N from 1, not in
// existing.
func UniqueFieldName(existing map[string]struct{}) (string, error) {
	for n := 1; n <= maxFieldNumber; n++ {
		name := types.FieldNamePrefix + strconv.Itoa(n)
		if _, ok := existing[name]; !ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no free signature field name", types.ErrInvalidRequest)
}

// ListTokens returns the tokens the backend can reach.
func (o *Orchestrator) ListTokens(ctx context.Context) ([]types.TokenInfo, error) {
	ctx, _ = correlation.Ensure(ctx)
	backend := o.backend.Type().String()
	start := time.Now()

	tokens, err := o.backend.ListTokens(ctx)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(metrics.OpListTokens, backend, string(types.Kind(err)))
	}
	metrics.RecordOperation(metrics.OpListTokens, backend, status, time.Since(start).Seconds())
	return tokens, err
}

// ListCertificates returns the signing certificates on slot.
func (o *Orchestrator) ListCertificates(ctx context.Context, slot uint, pinCode string) ([]types.CertificateInfo, error) {
	ctx, _ = correlation.Ensure(ctx)
	backend := o.backend.Type().String()
	start := time.Now()

	if o.tracker != nil {
		if err := o.tracker.Allow(); err != nil {
			return nil, err
		}
	}
	certs, err := o.backend.ListCertificates(ctx, slot, pinCode)
	o.recordPIN(err)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(metrics.OpListCertificates, backend, string(types.Kind(err)))
	} else {
		certs = types.FilterSigning(certs)
		metrics.SetCertificatesTotal(backend, float64(len(certs)))
	}
	metrics.RecordOperation(metrics.OpListCertificates, backend, status, time.Since(start).Seconds())
	return certs, err
}

// TestConnection reports whether slot holds at least one signing
// certificate that pin unlocks. It never returns an error.
func (o *Orchestrator) TestConnection(ctx context.Context, pinCode string, slot uint) bool {
	ctx, _ = correlation.Ensure(ctx)
	logger := correlation.Logger(ctx, o.logger)
	backend := o.backend.Type().String()
	start := time.Now()

	certs, err := o.backend.ListCertificates(ctx, slot, pinCode)
	ok := err == nil && len(types.FilterSigning(certs)) > 0

	status := metrics.StatusSuccess
	if !ok {
		status = metrics.StatusError
		logger.Debug("connection test failed", "slot", slot, "error", err)
	}
	metrics.SetBackendHealth(backend, ok)
	metrics.RecordOperation(metrics.OpTestConnection, backend, status, time.Since(start).Seconds())
	return ok
}

// signingFailed wraps err as ErrSigningFailed unless it already is one.
func signingFailed(err error) error {
	if errors.Is(err, types.ErrSigningFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrSigningFailed, err)
}
