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

package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
)

func TestParseBackendType(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendType
		wantErr bool
	}{
		{"native", BackendNative, false},
		{" Delegated ", BackendDelegated, false},
		{"java", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppearanceResolve(t *testing.T) {
	tests := []struct {
		name string
		in   SignatureAppearance
		want AppearanceKind
	}{
		{"text stays text", SignatureAppearance{Kind: AppearanceText}, AppearanceText},
		{"image without data falls back", SignatureAppearance{Kind: AppearanceImage}, AppearanceText},
		{"text+image without data falls back", SignatureAppearance{Kind: AppearanceTextAndImage}, AppearanceText},
		{"image with bytes", SignatureAppearance{Kind: AppearanceImage, ImageData: []byte{1}}, AppearanceImage},
		{"text+image with path", SignatureAppearance{Kind: AppearanceTextAndImage, ImagePath: "/tmp/x.png"}, AppearanceTextAndImage},
		{"unknown kind", SignatureAppearance{Kind: "watermark"}, AppearanceText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Resolve()
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, DefaultFontSize, got.FontSize)
		})
	}
}

func TestDefaultSignatureConfig(t *testing.T) {
	cfg := DefaultSignatureConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Page)
	assert.Equal(t, geometry.PDFRect{X1: 50, Y1: 50, X2: 250, Y2: 100}, cfg.Position)
	assert.Equal(t, "Signature1", cfg.FieldName)
	assert.True(t, cfg.Visible)
	assert.Equal(t, ConformanceBasic, cfg.Conformance)
}

func TestSignatureConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SignatureConfig)
		wantErr bool
	}{
		{"default", func(c *SignatureConfig) {}, false},
		{"zero width", func(c *SignatureConfig) { c.Position.X2 = c.Position.X1 }, true},
		{"negative height", func(c *SignatureConfig) { c.Position.Y2 = c.Position.Y1 - 1 }, true},
		{"invisible keeps default geometry", func(c *SignatureConfig) { c.Visible = false }, false},
		{"invisible without area", func(c *SignatureConfig) {
			c.Visible = false
			c.Position = geometry.PDFRect{}
		}, true},
		{"negative page", func(c *SignatureConfig) { c.Page = -1 }, true},
		{"unknown conformance", func(c *SignatureConfig) { c.Conformance = "archival" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSignatureConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignRequestValidate(t *testing.T) {
	req := &SignRequest{InputPath: "in.pdf", OutputPath: "in.pdf", Config: DefaultSignatureConfig()}
	assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)

	req.OutputPath = "out.pdf"
	assert.NoError(t, req.Validate())

	req.Config = nil
	assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
}

func TestSignatureResultValidate(t *testing.T) {
	assert.NoError(t, (&SignatureResult{Success: true}).Validate())
	assert.Error(t, (&SignatureResult{Success: false}).Validate())
	r := &SignatureResult{Success: false, Err: ErrSigningFailed}
	assert.NoError(t, r.Validate())
	assert.Equal(t, "signing failed", r.ErrorMessage())
}

func TestCertificateSelector(t *testing.T) {
	cert := &CertificateInfo{Label: "sign", KeyID: []byte{0x01, 0x02}}

	assert.True(t, CertificateSelector{}.IsAuto())
	assert.True(t, CertificateSelector{}.Matches(cert))
	assert.True(t, CertificateSelector{Label: "sign"}.Matches(cert))
	assert.False(t, CertificateSelector{Label: "auth"}.Matches(cert))
	assert.True(t, CertificateSelector{KeyID: []byte{0x01, 0x02}}.Matches(cert))
	assert.False(t, CertificateSelector{Label: "sign", KeyID: []byte{0x09}}.Matches(cert))
	assert.Equal(t, "slot=2 id=0102", CertificateSelector{Slot: 2, KeyID: []byte{1, 2}}.String())
}

func TestFilterSigning(t *testing.T) {
	certs := []CertificateInfo{
		{Label: "a", CanSign: true},
		{Label: "b"},
		{Label: "c", CanSign: true},
	}
	got := FilterSigning(certs)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Label)
	assert.Equal(t, "c", got[1].Label)
}

func TestCertificateInfoValidAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := &CertificateInfo{NotBefore: now.AddDate(-1, 0, 0), NotAfter: now.AddDate(1, 0, 0)}
	assert.True(t, c.ValidAt(now))
	assert.False(t, c.ValidAt(now.AddDate(2, 0, 0)))
	assert.True(t, (&CertificateInfo{}).ValidAt(now))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrLibraryNotFound, KindLibraryNotFound},
		{fmt.Errorf("wrap: %w", ErrBackendUnavailable), KindBackendUnavailable},
		{ErrTokenLocked, KindTokenError},
		{ErrSlotNotFound, KindTokenError},
		{ErrAmbiguousCertificate, KindSigningFailed},
		{fmt.Errorf("%w: %w", ErrSigningFailed, ErrInvalidPIN), KindInvalidPIN},
		{fmt.Errorf("%w: %w", ErrSigningFailed, ErrBackendTimeout), KindBackendTimeout},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}

	assert.True(t, IsRetryable(ErrInvalidPIN))
	assert.True(t, IsRetryable(ErrBackendTimeout))
	assert.False(t, IsRetryable(ErrProtocolError))
}
