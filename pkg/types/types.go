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

// Package types contains shared type definitions used across go-pdfsign,
// including token and certificate descriptors, signature configuration,
// the signing backend interface and the error taxonomy.
// This package has no dependencies on pkg/backend or pkg/signature to
// prevent import cycles.
package types

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultFieldName is the signature field name used when none is supplied.
	DefaultFieldName = "Signature1"

	// DefaultFontSize is the stamp font size in points.
	DefaultFontSize = 10

	// FieldNamePrefix is the prefix of generated signature field names.
	FieldNamePrefix = "Signature"
)

// =============================================================================
// Backend Type
// =============================================================================

// BackendType identifies a signing backend implementation.
type BackendType string

const (
	BackendNative    BackendType = "native"    // In-process PKCS#11 signing
	BackendDelegated BackendType = "delegated" // Companion helper process
)

// String returns the string representation of the backend type.
func (b BackendType) String() string {
	return string(b)
}

// IsValid returns true if the backend type is recognized.
func (b BackendType) IsValid() bool {
	switch b {
	case BackendNative, BackendDelegated:
		return true
	}
	return false
}

// ParseBackendType converts a string to a BackendType.
func ParseBackendType(s string) (BackendType, error) {
	b := BackendType(strings.ToLower(strings.TrimSpace(s)))
	if !b.IsValid() {
		return "", fmt.Errorf("%w: unknown backend %q", ErrInvalidRequest, s)
	}
	return b, nil
}

// =============================================================================
// Token and Certificate
// =============================================================================

// TokenInfo describes a hardware token present in a PKCS#11 slot.
type TokenInfo struct {
	SlotID       uint   `json:"slot"`
	Label        string `json:"label"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
}

// CertificateInfo describes a certificate found on an unlocked token.
type CertificateInfo struct {
	Label            string            `json:"label"`
	SubjectCN        string            `json:"subject"`
	IssuerCN         string            `json:"issuer"`
	Serial           string            `json:"serial"`
	NotBefore        time.Time         `json:"not_before"`
	NotAfter         time.Time         `json:"not_after"`
	KeyID            []byte            `json:"key_id,omitempty"`
	HasPrivateKey    bool              `json:"has_private_key"`
	DigitalSignature bool              `json:"digital_signature"`
	NonRepudiation   bool              `json:"non_repudiation"`
	CanSign          bool              `json:"can_sign"`
	Certificate      *x509.Certificate `json:"-"`
}

// KeyIDHex returns the key identifier as a lowercase hex string.
func (c *CertificateInfo) KeyIDHex() string {
	return hex.EncodeToString(c.KeyID)
}

// ValidAt reports whether t falls inside the certificate validity window.
// A zero window is treated as unknown and always valid.
func (c *CertificateInfo) ValidAt(t time.Time) bool {
	if c.NotBefore.IsZero() && c.NotAfter.IsZero() {
		return true
	}
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// DisplayName returns the subject common name, falling back to the label.
func (c *CertificateInfo) DisplayName() string {
	if c.SubjectCN != "" {
		return c.SubjectCN
	}
	return c.Label
}

// FilterSigning returns the certificates whose CanSign flag is set.
func FilterSigning(certs []CertificateInfo) []CertificateInfo {
	out := make([]CertificateInfo, 0, len(certs))
	for _, c := range certs {
		if c.CanSign {
			out = append(out, c)
		}
	}
	return out
}

// CertificateSelector picks one certificate on a token. When both Label
// and KeyID are empty the backend auto-selects, which only succeeds when
// the choice is unambiguous.
type CertificateSelector struct {
	Slot  uint   `json:"slot"`
	Label string `json:"label,omitempty"`
	KeyID []byte `json:"key_id,omitempty"`
}

// IsAuto reports whether the selector leaves the choice to the backend.
func (s CertificateSelector) IsAuto() bool {
	return s.Label == "" && len(s.KeyID) == 0
}

// Matches reports whether the certificate satisfies every set criterion.
func (s CertificateSelector) Matches(c *CertificateInfo) bool {
	if s.Label != "" && s.Label != c.Label {
		return false
	}
	if len(s.KeyID) > 0 && !bytes.Equal(s.KeyID, c.KeyID) {
		return false
	}
	return true
}

// String implements fmt.Stringer.
func (s CertificateSelector) String() string {
	switch {
	case s.IsAuto():
		return fmt.Sprintf("slot=%d auto", s.Slot)
	case len(s.KeyID) > 0 && s.Label != "":
		return fmt.Sprintf("slot=%d label=%q id=%x", s.Slot, s.Label, s.KeyID)
	case len(s.KeyID) > 0:
		return fmt.Sprintf("slot=%d id=%x", s.Slot, s.KeyID)
	default:
		return fmt.Sprintf("slot=%d label=%q", s.Slot, s.Label)
	}
}

// =============================================================================
// Appearance
// =============================================================================

// AppearanceKind selects the visual content of a signature stamp.
type AppearanceKind string

const (
	AppearanceText         AppearanceKind = "text"
	AppearanceImage        AppearanceKind = "image"
	AppearanceTextAndImage AppearanceKind = "text+image"
)

// IsValid returns true if the appearance kind is recognized.
func (k AppearanceKind) IsValid() bool {
	switch k {
	case AppearanceText, AppearanceImage, AppearanceTextAndImage:
		return true
	}
	return false
}

// RequiresImage reports whether the kind draws an image.
func (k AppearanceKind) RequiresImage() bool {
	return k == AppearanceImage || k == AppearanceTextAndImage
}

// RendersText reports whether the kind draws text lines.
func (k AppearanceKind) RendersText() bool {
	return k == AppearanceText || k == AppearanceTextAndImage
}

// SignatureAppearance is the visual content of a signature stamp.
type SignatureAppearance struct {
	Kind        AppearanceKind `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Reason      string         `json:"reason" yaml:"reason"`
	Location    string         `json:"location" yaml:"location"`
	Contact     string         `json:"contact" yaml:"contact"`
	IncludeDate bool           `json:"include_date" yaml:"include_date"`
	FontSize    int            `json:"font_size" yaml:"font_size"`
	ImagePath   string         `json:"image_path,omitempty" yaml:"image_path"`
	ImageData   []byte         `json:"-" yaml:"-"`
}

// DefaultAppearance returns a text stamp including the signing date.
func DefaultAppearance() SignatureAppearance {
	return SignatureAppearance{
		Kind:        AppearanceText,
		IncludeDate: true,
		FontSize:    DefaultFontSize,
	}
}

// HasImage reports whether image content is supplied.
func (a *SignatureAppearance) HasImage() bool {
	return len(a.ImageData) > 0 || a.ImagePath != ""
}

// Resolve returns a copy with defaults applied. Kinds that require an
// image fall back to text when none is supplied.
func (a SignatureAppearance) Resolve() SignatureAppearance {
	if !a.Kind.IsValid() {
		a.Kind = AppearanceText
	}
	if a.Kind.RequiresImage() && !a.HasImage() {
		a.Kind = AppearanceText
	}
	if a.FontSize <= 0 {
		a.FontSize = DefaultFontSize
	}
	return a
}

// =============================================================================
// Signature Configuration
// =============================================================================

// ConformanceLevel is the PAdES level produced by a signing operation.
type ConformanceLevel string

const (
	ConformanceBasic     ConformanceLevel = "basic"
	ConformanceTimestamp ConformanceLevel = "timestamp"
	ConformanceLTV       ConformanceLevel = "ltv"
)

// IsValid returns true if the conformance level is recognized.
func (c ConformanceLevel) IsValid() bool {
	switch c {
	case ConformanceBasic, ConformanceTimestamp, ConformanceLTV:
		return true
	}
	return false
}

// RequiresTimestamp reports whether the level needs a timestamp authority.
func (c ConformanceLevel) RequiresTimestamp() bool {
	return c == ConformanceTimestamp || c == ConformanceLTV
}

// SignatureConfig is the complete instruction for one signing operation.
type SignatureConfig struct {
	// Page is the 0-indexed target page.
	Page        int                 `json:"page"`
	Position    geometry.PDFRect    `json:"position"`
	// FieldName must not already exist in the document; empty picks the
	// first free Signature<N>. It is checked and reported by the
	// orchestrator, but neither backend can name the field it creates:
	// the native signing library assigns its own name and the delegated
	// helper always writes Signature_LuxTrust.
	FieldName   string              `json:"field_name"`
	Appearance  SignatureAppearance `json:"appearance"`
	Conformance ConformanceLevel    `json:"conformance"`
	Visible     bool                `json:"visible"`
}

// DefaultSignatureConfig returns a visible text signature on the first
// page at (50,50)-(250,100).
func DefaultSignatureConfig() *SignatureConfig {
	return &SignatureConfig{
		Page:        0,
		Position:    geometry.NewPDFRect(50, 50, 200, 50),
		FieldName:   DefaultFieldName,
		Appearance:  DefaultAppearance(),
		Conformance: ConformanceBasic,
		Visible:     true,
	}
}

// Validate checks the configuration for structural errors. The position
// must have an area even for invisible signatures.
func (c *SignatureConfig) Validate() error {
	if c.Page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrInvalidRequest)
	}
	if !c.Position.HasArea() {
		return fmt.Errorf("%w: position must have positive width and height, got %s",
			ErrInvalidRequest, c.Position)
	}
	if c.Conformance != "" && !c.Conformance.IsValid() {
		return fmt.Errorf("%w: unknown conformance level %q", ErrInvalidRequest, c.Conformance)
	}
	return nil
}

// SignRequest is what a backend receives for one signing operation.
type SignRequest struct {
	InputPath  string
	OutputPath string
	PIN        string
	Selector   CertificateSelector
	Config     *SignatureConfig
	// TSAURL is consulted when the conformance level needs a timestamp.
	TSAURL string
}

// Validate checks that paths are set and distinct and that the
// signature configuration is well formed.
func (r *SignRequest) Validate() error {
	if r.InputPath == "" || r.OutputPath == "" {
		return fmt.Errorf("%w: input and output paths are required", ErrInvalidRequest)
	}
	if r.InputPath == r.OutputPath {
		return fmt.Errorf("%w: output must differ from input", ErrInvalidRequest)
	}
	if r.Config == nil {
		return fmt.Errorf("%w: signature config is required", ErrInvalidRequest)
	}
	return r.Config.Validate()
}

// =============================================================================
// Signature Result
// =============================================================================

// SignatureResult is the outcome of one signing attempt.
type SignatureResult struct {
	Success     bool   `json:"success"`
	InputPath   string `json:"input"`
	OutputPath  string `json:"output"`
	Certificate string `json:"certificate,omitempty"`
	Signer      string `json:"signer,omitempty"`
	// FieldName is the created field when the backend knows it.
	FieldName   string `json:"field,omitempty"`
	Err         error  `json:"-"`
}

// Validate enforces that a failed result carries an error.
func (r *SignatureResult) Validate() error {
	if !r.Success && r.Err == nil {
		return fmt.Errorf("%w: unsuccessful result without error", ErrSigningFailed)
	}
	return nil
}

// ErrorMessage returns the error message, or an empty string on success.
func (r *SignatureResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
