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
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/digitorus/pdfsign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pdfsign/internal/testutil"
	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

type fakeLister struct {
	certs []types.CertificateInfo
	err   error
	pins  []string
}

func (f *fakeLister) ListTokens(context.Context) ([]types.TokenInfo, error) {
	return []types.TokenInfo{{SlotID: 0, Label: "LuxTrust"}}, nil
}

func (f *fakeLister) ListCertificates(_ context.Context, _ uint, pin string) ([]types.CertificateInfo, error) {
	f.pins = append(f.pins, pin)
	return f.certs, f.err
}

type fakeToken struct {
	keys   map[string]crypto.Signer
	closed bool
}

func (t *fakeToken) FindKeyPair(id, label []byte) (crypto.Signer, error) {
	if k, ok := t.keys[string(id)]; ok && len(id) > 0 {
		return k, nil
	}
	if k, ok := t.keys[string(label)]; ok && len(label) > 0 {
		return k, nil
	}
	return nil, nil
}

func (t *fakeToken) Close() error {
	t.closed = true
	return nil
}

type recordingSigner struct {
	got *Signing
	err error
}

func (r *recordingSigner) SignDocument(_ context.Context, in *os.File, out io.Writer, s *Signing) error {
	r.got = s
	if r.err != nil {
		_, _ = out.Write([]byte("partial"))
		return r.err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, []byte("\n%signed\n")...))
	return err
}

type fixture struct {
	dir     string
	input   string
	output  string
	lister  *fakeLister
	token   *fakeToken
	signer  *recordingSigner
	backend *Backend
	cert    *testutil.TestCertificate
}

func certInfo(t *testing.T, c *testutil.TestCertificate, label string, id []byte) types.CertificateInfo {
	t.Helper()
	info := pkcs11.NewCertificateInfo(c.Cert, label, id)
	info.HasPrivateKey = true
	info.CanSign = pkcs11.CanSign(info)
	return *info
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	cert, err := testutil.GenerateTestCert(ca, "Jane Doe", x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment)
	require.NoError(t, err)

	dir := t.TempDir()
	input := filepath.Join(dir, "contract.pdf")
	require.NoError(t, testutil.TestPDF{}.WriteFile(input))

	f := &fixture{
		dir:    dir,
		input:  input,
		output: filepath.Join(dir, "contract-signed.pdf"),
		lister: &fakeLister{certs: []types.CertificateInfo{certInfo(t, cert, "Signature", []byte{0x01})}},
		token:  &fakeToken{keys: map[string]crypto.Signer{"\x01": cert.Key}},
		signer: &recordingSigner{},
		cert:   cert,
	}
	f.backend, err = New("/usr/lib/libgclib.so",
		WithRegistry(f.lister),
		WithTokenOpener(func(string, uint, string) (Token, error) { return f.token, nil }),
		WithDocumentSigner(f.signer),
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) request() *types.SignRequest {
	return &types.SignRequest{
		InputPath:  f.input,
		OutputPath: f.output,
		PIN:        "1234",
		Config:     types.DefaultSignatureConfig(),
	}
}

func TestNewRequiresLibrary(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, types.ErrLibraryNotFound)

	b, err := New("/usr/lib/libgclib.so")
	require.NoError(t, err)
	assert.Equal(t, types.BackendNative, b.Type())
	assert.Equal(t, "/usr/lib/libgclib.so", b.Library())
}

func TestListTokens(t *testing.T) {
	f := newFixture(t)
	tokens, err := f.backend.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "LuxTrust", tokens[0].Label)
}

func TestSign(t *testing.T) {
	f := newFixture(t)

	result, err := f.backend.Sign(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, f.output, result.OutputPath)
	assert.Equal(t, "Jane Doe", result.Signer)
	assert.Equal(t, "Signature", result.Certificate)
	assert.True(t, f.token.closed)
	assert.Equal(t, []string{"1234"}, f.lister.pins)

	original, err := os.ReadFile(f.input)
	require.NoError(t, err)
	signed, err := os.ReadFile(f.output)
	require.NoError(t, err)
	assert.NotEqual(t, original, signed)
	assert.True(t, bytes.HasPrefix(signed, original))

	s := f.signer.got
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Page)
	assert.Equal(t, "Jane Doe", s.Name)
	assert.Equal(t, f.cert.Cert, s.Certificate)
	require.NotNil(t, s.Layout)
	assert.Contains(t, s.Layout.Text(), "Signed by: Jane Doe")
	assert.Contains(t, s.Layout.Text(), "Date: 02/01/2025 03:04")
	assert.Empty(t, s.TSAURL)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSignInvisible(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Config.Visible = false
	req.Config.Page = 2

	_, err := f.backend.Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, f.signer.got.Layout)
	assert.False(t, f.signer.got.Visible)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSignImageStamp(t *testing.T) {
	tests := []struct {
		name      string
		kind      types.AppearanceKind
		wantLines bool
	}{
		{"image", types.AppearanceImage, false},
		{"text and image", types.AppearanceTextAndImage, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			req.Config.Appearance.Kind = tt.kind
			req.Config.Appearance.ImageData = testPNG(t, 100, 100)

			_, err := f.backend.Sign(context.Background(), req)
			require.NoError(t, err)
			l := f.signer.got.Layout
			require.NotNil(t, l)
			require.NotNil(t, l.Image)
			assert.Equal(t, "png", l.Image.Format)
			assert.Equal(t, geometry.PDFRect{X1: 75, Y1: 0, X2: 125, Y2: 50}, l.ImageRect)
			assert.Equal(t, tt.wantLines, len(l.Lines) > 0)
		})
	}
}

func TestSignImageInvalid(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Config.Appearance.Kind = types.AppearanceImage
	req.Config.Appearance.ImageData = []byte("not an image")

	_, err := f.backend.Sign(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.Empty(t, f.lister.pins)
	assert.Nil(t, f.signer.got)
}

func TestSignContact(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Config.Appearance.Reason = "Approval"
	req.Config.Appearance.Location = "Luxembourg"
	req.Config.Appearance.Contact = "jane@example.com"

	_, err := f.backend.Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Approval", f.signer.got.Reason)
	assert.Equal(t, "Luxembourg", f.signer.got.Location)
	assert.Equal(t, "jane@example.com", f.signer.got.Contact)
	assert.Contains(t, f.signer.got.Layout.Text(), "Contact: jane@example.com")
}

func TestSignTimestamp(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Config.Conformance = types.ConformanceTimestamp

	_, err := f.backend.Sign(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.Empty(t, f.lister.pins)

	req.TSAURL = "http://timestamp.example.com"
	_, err = f.backend.Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "http://timestamp.example.com", f.signer.got.TSAURL)
}

func TestSignConformance(t *testing.T) {
	tests := []struct {
		level   types.ConformanceLevel
		want    types.ConformanceLevel
		wantTSA string
	}{
		{"", types.ConformanceBasic, ""},
		{types.ConformanceBasic, types.ConformanceBasic, ""},
		{types.ConformanceTimestamp, types.ConformanceTimestamp, "http://tsa.example.com"},
		{types.ConformanceLTV, types.ConformanceLTV, "http://tsa.example.com"},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			req.Config.Conformance = tt.level
			req.TSAURL = "http://tsa.example.com"

			_, err := f.backend.Sign(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.signer.got.Conformance)
			assert.Equal(t, tt.wantTSA, f.signer.got.TSAURL)
		})
	}
}

func TestPadesFormat(t *testing.T) {
	assert.Equal(t, pdfsign.PAdES_B, padesFormat(types.ConformanceBasic))
	assert.Equal(t, pdfsign.PAdES_B_T, padesFormat(types.ConformanceTimestamp))
	assert.Equal(t, pdfsign.PAdES_B_LT, padesFormat(types.ConformanceLTV))
	assert.NotEqual(t, padesFormat(types.ConformanceTimestamp), padesFormat(types.ConformanceLTV))
}

func TestSignRejectsSameInputOutput(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.OutputPath = req.InputPath

	_, err := f.backend.Sign(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestSignKeyMismatch(t *testing.T) {
	f := newFixture(t)
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	other, err := testutil.GenerateTestCert(ca, "Someone Else", x509.KeyUsageDigitalSignature)
	require.NoError(t, err)
	f.token.keys["\x01"] = other.Key

	_, err = f.backend.Sign(context.Background(), f.request())
	assert.ErrorIs(t, err, types.ErrKeyMismatch)
	assert.ErrorIs(t, err, types.ErrSigningFailed)
	assert.NoFileExists(t, f.output)

	delete(f.token.keys, "\x01")
	_, err = f.backend.Sign(context.Background(), f.request())
	assert.ErrorIs(t, err, types.ErrKeyMismatch)
}

func TestSignErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.lister.err = types.ErrInvalidPIN

	_, err := f.backend.Sign(context.Background(), f.request())
	assert.ErrorIs(t, err, types.ErrInvalidPIN)
	assert.NoFileExists(t, f.output)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.backend.Sign(ctx, f.request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignWriteFailureRemovesTemp(t *testing.T) {
	f := newFixture(t)
	f.signer.err = errors.New("corrupt xref")

	_, err := f.backend.Sign(context.Background(), f.request())
	assert.ErrorIs(t, err, types.ErrSigningFailed)
	assert.Contains(t, err.Error(), "corrupt xref")
	assert.NoFileExists(t, f.output)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSelectCertificate(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	nr, err := testutil.GenerateTestCert(ca, "Qualified", x509.KeyUsageContentCommitment)
	require.NoError(t, err)
	ds, err := testutil.GenerateTestCert(ca, "Authentication", x509.KeyUsageDigitalSignature)
	require.NoError(t, err)
	ds2, err := testutil.GenerateTestCert(ca, "Advanced", x509.KeyUsageDigitalSignature)
	require.NoError(t, err)

	enc, err := testutil.GenerateTestCert(ca, "Encryption", x509.KeyUsageKeyEncipherment)
	require.NoError(t, err)

	qualified := certInfo(t, nr, "Qualified", []byte{0x01})
	auth := certInfo(t, ds, "Authentication", []byte{0x02})
	advanced := certInfo(t, ds2, "Advanced", []byte{0x03})
	encryption := certInfo(t, enc, "Encryption", []byte{0x04})
	expired := qualified
	expired.Label = "Expired"
	expired.NotAfter = time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		certs   []types.CertificateInfo
		sel     types.CertificateSelector
		want    string
		wantErr error
	}{
		{"single certificate", []types.CertificateInfo{auth}, types.CertificateSelector{}, "Authentication", nil},
		{"prefers non-repudiation", []types.CertificateInfo{auth, qualified}, types.CertificateSelector{}, "Qualified", nil},
		{"prefers signing usage", []types.CertificateInfo{encryption, auth}, types.CertificateSelector{}, "Authentication", nil},
		{"encryption only", []types.CertificateInfo{encryption}, types.CertificateSelector{}, "Encryption", nil},
		{"prefers valid", []types.CertificateInfo{expired, auth}, types.CertificateSelector{}, "Authentication", nil},
		{"expired only", []types.CertificateInfo{expired}, types.CertificateSelector{}, "Expired", nil},
		{"expired by label", []types.CertificateInfo{expired, auth}, types.CertificateSelector{Label: "Expired"}, "Expired", nil},
		{"ambiguous", []types.CertificateInfo{auth, advanced}, types.CertificateSelector{}, "", types.ErrAmbiguousCertificate},
		{"none", nil, types.CertificateSelector{}, "", types.ErrCertificateNotFound},
		{"by label", []types.CertificateInfo{auth, advanced}, types.CertificateSelector{Label: "Advanced"}, "Advanced", nil},
		{"by key id", []types.CertificateInfo{auth, advanced}, types.CertificateSelector{KeyID: []byte{0x02}}, "Authentication", nil},
		{"selector matches nothing", []types.CertificateInfo{auth}, types.CertificateSelector{Label: "Missing"}, "", types.ErrCertificateNotFound},
		{"selector ambiguous", []types.CertificateInfo{auth, auth}, types.CertificateSelector{Label: "Authentication"}, "", types.ErrAmbiguousCertificate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectCertificate(tt.certs, tt.sel, time.Now())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, types.ErrSigningFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Label)
		})
	}
}

func TestSigningRect(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Config.Position = geometry.PDFRect{X1: 100, Y1: 20, X2: 300, Y2: 120}

	_, err := f.backend.Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200.0, f.signer.got.Layout.Width)
	assert.Equal(t, 100.0, f.signer.got.Layout.Height)
}
