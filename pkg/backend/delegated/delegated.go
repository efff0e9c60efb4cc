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

// Package delegated signs PDFs by running an external Java helper that
// talks to the token itself. Each operation is one child process whose
// standard output is a single JSON object.
package delegated

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/appearance"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// DefaultTimeout bounds every helper invocation.
const DefaultTimeout = 60 * time.Second

// maxProtocolExcerpt limits how much malformed output is quoted in errors.
const maxProtocolExcerpt = 256

// Config configures the delegated backend. Empty paths are located.
type Config struct {
	Java    string        `yaml:"java" json:"java" mapstructure:"java"`
	Jar     string        `yaml:"jar" json:"jar" mapstructure:"jar"`
	Library string        `yaml:"library" json:"library" mapstructure:"library"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// TempDir receives stamp images that only exist in memory.
	TempDir string `yaml:"temp_dir" json:"temp_dir" mapstructure:"temp_dir"`
}

// Backend is the subprocess signing backend.
type Backend struct {
	java    string
	jar     string
	library string
	timeout time.Duration
	tempDir string
	runner  Runner
	locator *Locator
	logger  *logging.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithRunner replaces the os/exec runner.
func WithRunner(r Runner) Option {
	return func(b *Backend) { b.runner = r }
}

// WithLocator replaces the runtime and helper locator.
func WithLocator(l *Locator) Option {
	return func(b *Backend) { b.locator = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New resolves the runtime and helper and returns the backend.
func New(config *Config, opts ...Option) (*Backend, error) {
	if config == nil {
		config = &Config{}
	}
	b := &Backend{
		library: config.Library,
		timeout: config.Timeout,
		tempDir: config.TempDir,
		runner:  ExecRunner{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.logger == nil {
		b.logger = logging.DefaultLogger()
	}
	if b.locator == nil {
		b.locator = NewLocator()
	}

	var err error
	if b.java, err = b.locator.LocateJava(config.Java); err != nil {
		return nil, err
	}
	if b.jar, err = b.locator.LocateJar(config.Jar); err != nil {
		return nil, err
	}
	b.logger.Debug("delegated backend ready", "java", b.java, "jar", b.jar, "library", b.library)
	return b, nil
}

// Type implements types.Backend.
func (b *Backend) Type() types.BackendType {
	return types.BackendDelegated
}

// Command returns the full argument vector for the helper arguments.
func (b *Backend) Command(args []string) []string {
	argv := make([]string, 0, len(args)+5)
	argv = append(argv, b.java, "-jar", b.jar)
	argv = append(argv, args...)
	if b.library != "" {
		argv = append(argv, "--lib", b.library)
	}
	return argv
}

// ListTokens asks the helper which slots it can open.
func (b *Backend) ListTokens(ctx context.Context) ([]types.TokenInfo, error) {
	var resp tokensResponse
	if err := b.call(ctx, tokensArgs(), &resp); err != nil {
		return nil, err
	}
	if resp.Library != "" && !resp.Exists {
		return nil, fmt.Errorf("%w: %s", types.ErrLibraryNotFound, resp.Library)
	}
	tokens := make([]types.TokenInfo, 0, len(resp.Slots))
	for _, s := range resp.Slots {
		if !s.Available {
			continue
		}
		tokens = append(tokens, types.TokenInfo{SlotID: s.Slot})
	}
	return tokens, nil
}

// ListCertificates implements types.Backend. Only certificates able to
// sign are returned.
func (b *Backend) ListCertificates(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error) {
	var resp listResponse
	if err := b.call(ctx, listArgs(pin, slot), &resp); err != nil {
		return nil, err
	}
	certs := make([]types.CertificateInfo, 0, len(resp.Certificates))
	for _, rec := range resp.Certificates {
		info := rec.toCertificateInfo()
		if !info.CanSign {
			b.logger.Debug("skipping certificate", "alias", rec.Alias)
			continue
		}
		certs = append(certs, info)
	}
	return certs, nil
}

// HelperFieldName is the name the helper gives every signature field.
const HelperFieldName = "Signature_LuxTrust"

// Sign implements types.Backend. A helper that reports success=false
// yields an unsuccessful result with a nil error; process and protocol
// failures are returned as errors.
func (b *Backend) Sign(ctx context.Context, req *types.SignRequest) (*types.SignatureResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Config.Conformance.RequiresTimestamp() {
		b.logger.Warn("conformance level not supported by the signing helper, signing without timestamp",
			"conformance", req.Config.Conformance)
	}

	if name := req.Config.FieldName; name != "" && name != HelperFieldName {
		b.logger.Warn("signing helper ignores the requested field name",
			"requested", name, "field", HelperFieldName)
	}

	app := req.Config.Appearance.Resolve()
	var imagePath string
	if req.Config.Visible && app.Kind.RequiresImage() {
		path, cleanup, err := appearance.Materialize(app, b.tempDir)
		if err != nil {
			b.logger.Warn("stamp image unavailable, signing with text", "error", err)
		} else {
			defer cleanup()
			imagePath = path
		}
	}

	var resp signResponse
	if err := b.call(ctx, signArgs(req, imagePath), &resp); err != nil {
		return nil, err
	}

	result := &types.SignatureResult{
		Success:     resp.Success,
		InputPath:   valueOr(resp.Input, req.InputPath),
		OutputPath:  valueOr(resp.Output, req.OutputPath),
		Certificate: resp.Certificate,
		Signer:      commonName(resp.Signer),
		FieldName:   HelperFieldName,
	}
	if !resp.Success {
		msg := valueOr(resp.Error, "helper reported failure")
		result.Err = fmt.Errorf("%w: %s", types.ErrSigningFailed, msg)
	}
	return result, nil
}

// call runs the helper and decodes its JSON output into v.
func (b *Backend) call(ctx context.Context, args []string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.runner.Run(ctx, b.Command(args))
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: helper did not finish within %s", types.ErrBackendTimeout, b.timeout)
		case errors.Is(err, context.Canceled):
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}

	stdout := bytes.TrimSpace(out.Stdout)
	if len(stdout) == 0 {
		if out.ExitCode != 0 {
			return helperError(out.Stderr)
		}
		return nil
	}
	if err := json.Unmarshal(stdout, v); err != nil {
		return fmt.Errorf("%w: %v: %q", types.ErrProtocolError, err, excerpt(stdout))
	}
	return nil
}

// helperError builds a BackendError from the helper's standard error,
// which is either plain text or {"error": "..."}. PKCS#11 PIN failures
// reported by the helper are also marked as PIN errors so the attempt
// budget sees them.
func helperError(stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	var e errorResponse
	if json.Unmarshal([]byte(msg), &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if msg == "" {
		msg = "Unknown error"
	}
	switch {
	case strings.Contains(msg, "CKR_PIN_LOCKED"):
		return fmt.Errorf("%w: %w: %s", types.ErrBackendError, types.ErrTokenLocked, msg)
	case strings.Contains(msg, "CKR_PIN_INCORRECT"),
		strings.Contains(msg, "CKR_PIN_INVALID"),
		strings.Contains(msg, "CKR_PIN_LEN_RANGE"):
		return fmt.Errorf("%w: %w: %s", types.ErrBackendError, types.ErrInvalidPIN, msg)
	}
	return fmt.Errorf("%w: %s", types.ErrBackendError, msg)
}

func excerpt(b []byte) string {
	if len(b) > maxProtocolExcerpt {
		return string(b[:maxProtocolExcerpt]) + "..."
	}
	return string(b)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var _ types.Backend = (*Backend)(nil)
