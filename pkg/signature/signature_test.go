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

package signature

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itestutil "github.com/jeremyhahn/go-pdfsign/internal/testutil"
	"github.com/jeremyhahn/go-pdfsign/pkg/backend/native"
	"github.com/jeremyhahn/go-pdfsign/pkg/document"
	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/metrics"
	"github.com/jeremyhahn/go-pdfsign/pkg/pin"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

type fakeBackend struct {
	certs   []types.CertificateInfo
	listErr error
	result  *types.SignatureResult
	signErr error

	requests []*types.SignRequest
}

func (f *fakeBackend) Type() types.BackendType {
	return types.BackendNative
}

func (f *fakeBackend) ListTokens(context.Context) ([]types.TokenInfo, error) {
	return []types.TokenInfo{{SlotID: 0, Label: "LuxTrust"}}, nil
}

func (f *fakeBackend) ListCertificates(_ context.Context, _ uint, _ string) ([]types.CertificateInfo, error) {
	return f.certs, f.listErr
}

func (f *fakeBackend) Sign(_ context.Context, req *types.SignRequest) (*types.SignatureResult, error) {
	f.requests = append(f.requests, req)
	if f.signErr != nil {
		return nil, f.signErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &types.SignatureResult{
		Success:    true,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Signer:     "Jane Doe",
	}, nil
}

func writePDF(t *testing.T, d itestutil.TestPDF) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.pdf")
	require.NoError(t, d.WriteFile(path))
	return path
}

func newOrchestrator(t *testing.T, b types.Backend, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(b, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	require.NoError(t, err)
	return o
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)
}

// TestSignScenario drives the native backend end to end with an
// in-memory token: slot 0, PIN 1234, one signing certificate.
func TestSignScenario(t *testing.T) {
	ca, err := itestutil.GenerateTestCA()
	require.NoError(t, err)
	cert, err := itestutil.GenerateTestCert(ca, "Jane Doe", x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment)
	require.NoError(t, err)

	info := pkcs11.NewCertificateInfo(cert.Cert, "Signature", []byte{0x01})
	info.HasPrivateKey = true
	info.CanSign = pkcs11.CanSign(info)

	lister := listerFunc(func(_ context.Context, slot uint, p string) ([]types.CertificateInfo, error) {
		if slot != 0 {
			return nil, types.ErrSlotNotFound
		}
		if p != "1234" {
			return nil, types.ErrInvalidPIN
		}
		return []types.CertificateInfo{*info}, nil
	})
	opener := func(string, uint, string) (native.Token, error) {
		return &keyToken{key: cert.Key}, nil
	}
	copier := native.DocumentSignerFunc(func(_ context.Context, in *os.File, out io.Writer, _ *native.Signing) error {
		_, err := io.Copy(out, in)
		if err == nil {
			_, err = out.Write([]byte("\n%signature\n"))
		}
		return err
	})
	backend, err := native.New("/usr/lib/libgclib.so",
		native.WithRegistry(lister),
		native.WithTokenOpener(opener),
		native.WithDocumentSigner(copier),
		native.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)

	input := writePDF(t, itestutil.TestPDF{})
	output := filepath.Join(filepath.Dir(input), "contract-signed.pdf")
	o := newOrchestrator(t, backend)

	cfg := types.DefaultSignatureConfig()
	cfg.Page = 0
	cfg.Position = geometry.PDFRect{X1: 50, Y1: 50, X2: 250, Y2: 100}

	result, err := o.Sign(context.Background(), input, output, "1234", cfg, types.CertificateSelector{Slot: 0})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEqual(t, input, result.OutputPath)
	assert.Equal(t, "Jane Doe", result.Signer)
	assert.FileExists(t, result.OutputPath)
	assert.NoError(t, o.LastError())
}

type listerFunc func(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error)

func (f listerFunc) ListTokens(context.Context) ([]types.TokenInfo, error) {
	return []types.TokenInfo{{SlotID: 0}}, nil
}

func (f listerFunc) ListCertificates(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error) {
	return f(ctx, slot, pin)
}

type keyToken struct {
	key crypto.Signer
}

func (k *keyToken) FindKeyPair(_, _ []byte) (crypto.Signer, error) {
	return k.key, nil
}

func (k *keyToken) Close() error {
	return nil
}

func TestSignDefaultConfigGeneratesFieldName(t *testing.T) {
	b := &fakeBackend{}
	o := newOrchestrator(t, b)
	input := writePDF(t, itestutil.TestPDF{Fields: []itestutil.TestField{
		{Name: "Signature1"},
		{Name: "Signature2"},
	}})

	_, err := o.Sign(context.Background(), input, input+".signed", "1234", nil, types.CertificateSelector{})
	require.NoError(t, err)
	require.Len(t, b.requests, 1)

	cfg := b.requests[0].Config
	assert.Equal(t, "Signature3", cfg.FieldName)
	assert.Equal(t, geometry.PDFRect{X1: 50, Y1: 50, X2: 250, Y2: 100}, cfg.Position)
	assert.Equal(t, types.ConformanceBasic, cfg.Conformance)
	assert.True(t, cfg.Visible)
}

func TestSignDoesNotMutateConfig(t *testing.T) {
	b := &fakeBackend{}
	o := newOrchestrator(t, b)
	input := writePDF(t, itestutil.TestPDF{})

	cfg := types.DefaultSignatureConfig()
	cfg.FieldName = ""
	cfg.Appearance.Kind = types.AppearanceImage

	_, err := o.Sign(context.Background(), input, input+".signed", "1234", cfg, types.CertificateSelector{})
	require.NoError(t, err)
	assert.Empty(t, cfg.FieldName)
	assert.Equal(t, types.AppearanceImage, cfg.Appearance.Kind)

	sent := b.requests[0].Config
	assert.Equal(t, "Signature1", sent.FieldName)
	assert.Equal(t, types.AppearanceText, sent.Appearance.Kind)
}

func TestSignValidation(t *testing.T) {
	input := writePDF(t, itestutil.TestPDF{
		Pages:  []itestutil.TestPage{itestutil.A4, itestutil.A4},
		Fields: []itestutil.TestField{{Name: "Approval"}},
	})

	tests := []struct {
		name    string
		mutate  func(*types.SignatureConfig)
		wantErr error
	}{
		{
			name:    "zero width",
			mutate:  func(c *types.SignatureConfig) { c.Position = geometry.NewPDFRect(50, 50, 0, 50) },
			wantErr: types.ErrInvalidRequest,
		},
		{
			name:    "page past end",
			mutate:  func(c *types.SignatureConfig) { c.Page = 2 },
			wantErr: document.ErrPageOutOfRange,
		},
		{
			name:    "duplicate field",
			mutate:  func(c *types.SignatureConfig) { c.FieldName = "Approval" },
			wantErr: ErrDuplicateFieldName,
		},
		{
			name:    "unknown conformance",
			mutate:  func(c *types.SignatureConfig) { c.Conformance = "qualified" },
			wantErr: types.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			o := newOrchestrator(t, b)
			cfg := types.DefaultSignatureConfig()
			tt.mutate(cfg)

			_, err := o.Sign(context.Background(), input, input+".signed", "1234", cfg, types.CertificateSelector{})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, types.ErrInvalidRequest)
			assert.Empty(t, b.requests)
			assert.Equal(t, err, o.LastError())
		})
	}
}

func TestSignLastPageAccepted(t *testing.T) {
	b := &fakeBackend{}
	o := newOrchestrator(t, b)
	input := writePDF(t, itestutil.TestPDF{Pages: []itestutil.TestPage{itestutil.A4, itestutil.Letter}})

	cfg := types.DefaultSignatureConfig()
	cfg.Page = 1
	_, err := o.Sign(context.Background(), input, input+".signed", "1234", cfg, types.CertificateSelector{})
	require.NoError(t, err)
	assert.Equal(t, 1, b.requests[0].Config.Page)
}

func TestSignWithoutDocumentOpener(t *testing.T) {
	b := &fakeBackend{}
	o := newOrchestrator(t, b, WithDocumentOpener(nil), WithTSAURL("http://tsa.example"))

	_, err := o.Sign(context.Background(), "/missing/in.pdf", "/missing/out.pdf", "1234", nil, types.CertificateSelector{})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultFieldName, b.requests[0].Config.FieldName)
	assert.Equal(t, "http://tsa.example", b.requests[0].TSAURL)
}

func TestSignUnreadableDocument(t *testing.T) {
	b := &fakeBackend{}
	o := newOrchestrator(t, b)
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o600))

	_, err := o.Sign(context.Background(), path, path+".signed", "1234", nil, types.CertificateSelector{})
	assert.ErrorIs(t, err, types.ErrSigningFailed)
	assert.ErrorIs(t, err, document.ErrOpen)
	assert.Empty(t, b.requests)
}

func TestSignWrapsBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid pin", types.ErrInvalidPIN},
		{"timeout", types.ErrBackendTimeout},
		{"token", types.ErrTokenLocked},
		{"already signing failure", types.ErrKeyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{signErr: tt.err}
			o := newOrchestrator(t, b, WithDocumentOpener(nil))

			result, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "1234", nil, types.CertificateSelector{})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, types.ErrSigningFailed)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, err, o.LastError())
		})
	}
}

func TestLastErrorReflectsMostRecentCall(t *testing.T) {
	b := &fakeBackend{signErr: types.ErrBackendTimeout}
	o := newOrchestrator(t, b, WithDocumentOpener(nil))

	_, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "1234", nil, types.CertificateSelector{})
	require.Error(t, err)
	assert.ErrorIs(t, o.LastError(), types.ErrBackendTimeout)

	b.signErr = nil
	_, err = o.Sign(context.Background(), "in.pdf", "out.pdf", "1234", nil, types.CertificateSelector{})
	require.NoError(t, err)
	assert.NoError(t, o.LastError())
}

func TestSignUnsuccessfulResult(t *testing.T) {
	b := &fakeBackend{result: &types.SignatureResult{
		Success:   false,
		InputPath: "in.pdf",
		Err:       errors.New("card removed"),
	}}
	o := newOrchestrator(t, b, WithDocumentOpener(nil))

	result, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "1234", nil, types.CertificateSelector{})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.ErrorIs(t, err, types.ErrSigningFailed)
	assert.Contains(t, err.Error(), "card removed")
	assert.NoError(t, result.Validate())
}

func TestSignPINLockout(t *testing.T) {
	b := &fakeBackend{signErr: types.ErrInvalidPIN}
	tracker := pin.NewTracker(nil)
	o := newOrchestrator(t, b, WithDocumentOpener(nil), WithTracker(tracker))

	metrics.Enable()
	metrics.PINFailuresTotal.Reset()

	for i := 0; i < pin.MaxAttempts; i++ {
		_, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "0000", nil, types.CertificateSelector{})
		require.ErrorIs(t, err, types.ErrInvalidPIN)
	}
	assert.Equal(t, 0, tracker.Remaining())

	_, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "0000", nil, types.CertificateSelector{})
	assert.ErrorIs(t, err, pin.ErrAttemptsExhausted)
	assert.Len(t, b.requests, pin.MaxAttempts)
	assert.Equal(t, float64(pin.MaxAttempts),
		testutil.ToFloat64(metrics.PINFailuresTotal.WithLabelValues(types.BackendNative.String())))
}

func TestSignRecordsMetrics(t *testing.T) {
	metrics.Enable()
	metrics.OperationsTotal.Reset()

	o := newOrchestrator(t, &fakeBackend{}, WithDocumentOpener(nil))
	_, err := o.Sign(context.Background(), "in.pdf", "out.pdf", "1234", nil, types.CertificateSelector{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(
		metrics.OpSign, types.BackendNative.String(), metrics.StatusSuccess)))
}

func TestUniqueFieldName(t *testing.T) {
	set := func(names ...string) map[string]struct{} {
		m := make(map[string]struct{}, len(names))
		for _, n := range names {
			m[n] = struct{}{}
		}
		return m
	}
	tests := []struct {
		name     string
		existing map[string]struct{}
		want     string
	}{
		{"empty", set(), "Signature1"},
		{"nil", nil, "Signature1"},
		{"two taken", set("Signature1", "Signature2"), "Signature3"},
		{"gap", set("Signature2"), "Signature1"},
		{"other names", set("Approval", "signature1"), "Signature1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UniqueFieldName(tt.existing)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateUniqueFieldName(t *testing.T) {
	path := writePDF(t, itestutil.TestPDF{Fields: []itestutil.TestField{
		{Name: "Signature1"},
		{Name: "Signature2"},
	}})
	doc, err := document.Open(path)
	require.NoError(t, err)
	defer doc.Close()

	first, err := GenerateUniqueFieldName(doc)
	require.NoError(t, err)
	second, err := GenerateUniqueFieldName(doc)
	require.NoError(t, err)
	assert.Equal(t, "Signature3", first)
	assert.Equal(t, first, second)
}

func TestTestConnection(t *testing.T) {
	signing := types.CertificateInfo{Label: "Signature", CanSign: true}
	auth := types.CertificateInfo{Label: "Authentication"}

	tests := []struct {
		name    string
		backend *fakeBackend
		want    bool
	}{
		{"signing certificate", &fakeBackend{certs: []types.CertificateInfo{auth, signing}}, true},
		{"no signing certificate", &fakeBackend{certs: []types.CertificateInfo{auth}}, false},
		{"empty token", &fakeBackend{}, false},
		{"wrong pin", &fakeBackend{listErr: types.ErrInvalidPIN}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, tt.backend)
			assert.Equal(t, tt.want, o.TestConnection(context.Background(), "1234", 0))
		})
	}
}

func TestListCertificates(t *testing.T) {
	b := &fakeBackend{certs: []types.CertificateInfo{
		{Label: "Authentication"},
		{Label: "Signature", CanSign: true},
	}}
	o := newOrchestrator(t, b)

	certs, err := o.ListCertificates(context.Background(), 0, "1234")
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "Signature", certs[0].Label)

	b.listErr = types.ErrInvalidPIN
	_, err = o.ListCertificates(context.Background(), 0, "0000")
	assert.ErrorIs(t, err, types.ErrInvalidPIN)
}

func TestListTokens(t *testing.T) {
	o := newOrchestrator(t, &fakeBackend{})
	tokens, err := o.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "LuxTrust", tokens[0].Label)
}

func TestSignAsync(t *testing.T) {
	collect := func(ch <-chan Event) []Event {
		var events []Event
		for e := range ch {
			events = append(events, e)
		}
		return events
	}
	job := Job{Input: "in.pdf", Output: "out.pdf", PIN: "1234"}

	t.Run("completed", func(t *testing.T) {
		o := newOrchestrator(t, &fakeBackend{}, WithDocumentOpener(nil))
		events := collect(o.SignAsync(context.Background(), job))

		require.Len(t, events, 3)
		assert.Equal(t, EventStarted, events[0].Type)
		assert.Equal(t, EventProgress, events[1].Type)
		assert.Equal(t, EventCompleted, events[2].Type)
		require.NotNil(t, events[2].Result)
		assert.True(t, events[2].Result.Success)
	})

	t.Run("failed", func(t *testing.T) {
		o := newOrchestrator(t, &fakeBackend{signErr: types.ErrBackendTimeout}, WithDocumentOpener(nil))
		events := collect(o.SignAsync(context.Background(), job))

		require.Len(t, events, 3)
		assert.Equal(t, EventFailed, events[2].Type)
		assert.ErrorIs(t, events[2].Err, types.ErrBackendTimeout)
		assert.ErrorIs(t, o.LastError(), types.ErrSigningFailed)
	})
}

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	library := filepath.Join(dir, "libtoken.so")
	java := filepath.Join(dir, "java")
	jar := filepath.Join(dir, "signer.jar")
	for _, p := range []string{library, java, jar} {
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}
	locator := &pkcs11.Locator{GOOS: "linux", Getenv: func(string) string { return "" }, Stat: os.Stat}
	missing := &pkcs11.Locator{
		GOOS:   "linux",
		Getenv: func(string) string { return "" },
		Stat:   func(string) (os.FileInfo, error) { return nil, os.ErrNotExist },
	}

	t.Run("native", func(t *testing.T) {
		b, err := NewBackend(&BackendConfig{Type: types.BackendNative, Library: library, Locator: locator, Logger: logging.Discard()})
		require.NoError(t, err)
		assert.Equal(t, types.BackendNative, b.Type())
	})

	t.Run("native without library", func(t *testing.T) {
		b, err := NewBackend(&BackendConfig{Type: types.BackendNative, Locator: missing, Logger: logging.Discard()})
		assert.ErrorIs(t, err, types.ErrLibraryNotFound)
		assert.Nil(t, b)
	})

	t.Run("delegated", func(t *testing.T) {
		cfg := &BackendConfig{Type: types.BackendDelegated, Library: library, Locator: locator, Logger: logging.Discard()}
		cfg.Delegated.Java = java
		cfg.Delegated.Jar = jar
		b, err := NewBackend(cfg)
		require.NoError(t, err)
		assert.Equal(t, types.BackendDelegated, b.Type())
	})

	t.Run("delegated without library", func(t *testing.T) {
		cfg := &BackendConfig{Type: types.BackendDelegated, Locator: missing, Logger: logging.Discard()}
		cfg.Delegated.Java = java
		cfg.Delegated.Jar = jar
		_, err := NewBackend(cfg)
		require.NoError(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBackend(&BackendConfig{Type: "remote", Library: library, Locator: locator, Logger: logging.Discard()})
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
	})
}
