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

package pkcs11

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// findBatchSize is the number of handles requested per FindObjects call.
const findBatchSize = 32

// Registry enumerates tokens and certificates through a PKCS#11 library.
// Each call loads the module, opens at most one session and releases
// both before returning.
type Registry struct {
	library string
	loader  ModuleLoader
	logger  *logging.Logger

	// mu serializes module initialization; C_Initialize and C_Finalize
	// are process-wide for most middleware.
	mu sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLoader replaces the module loader.
func WithLoader(loader ModuleLoader) RegistryOption {
	return func(r *Registry) {
		r.loader = loader
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry for the library at path.
func NewRegistry(library string, opts ...RegistryOption) *Registry {
	r := &Registry{
		library: library,
		loader:  LoadModule,
		logger:  logging.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Library returns the library path the registry loads.
func (r *Registry) Library() string {
	return r.library
}

// ListTokens returns one TokenInfo per slot with a token present. An
// empty slice is returned when no token is inserted.
func (r *Registry) ListTokens(ctx context.Context) ([]types.TokenInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tokens []types.TokenInfo
	err := r.withModule(func(m Module) error {
		slots, err := m.GetSlotList(true)
		if err != nil {
			return fmt.Errorf("%w: failed to get slot list: %v", types.ErrTokenError, err)
		}
		tokens = make([]types.TokenInfo, 0, len(slots))
		for _, slot := range slots {
			info, err := m.GetTokenInfo(slot)
			if err != nil {
				r.logger.Warn("skipping slot without token info", "slot", slot, "error", err)
				continue
			}
			tokens = append(tokens, types.TokenInfo{
				SlotID:       slot,
				Label:        trimPadded(info.Label),
				Manufacturer: trimPadded(info.ManufacturerID),
				Model:        trimPadded(info.Model),
				Serial:       trimPadded(info.SerialNumber),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// ListCertificates logs in to slot with pin and returns the certificates
// that can sign. Certificates that cannot be read or parsed are skipped.
func (r *Registry) ListCertificates(ctx context.Context, slot uint, pin string) ([]types.CertificateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var certs []types.CertificateInfo
	err := r.withSession(slot, pin, func(m Module, sh pkcs11.SessionHandle) error {
		handles, err := findAll(m, sh, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to find certificates: %v", types.ErrTokenError, err)
		}

		for _, h := range handles {
			info, err := r.readCertificate(m, sh, h)
			if err != nil {
				r.logger.Warn("skipping unreadable certificate", "slot", slot, "handle", h, "error", err)
				continue
			}
			if info.CanSign {
				certs = append(certs, *info)
			} else {
				r.logger.Debug("certificate cannot sign", "slot", slot, "label", info.Label)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if certs == nil {
		certs = []types.CertificateInfo{}
	}
	return certs, nil
}

// TestPIN reports whether pin opens an authenticated session on slot.
// It never returns an error; every failure reads as false.
func (r *Registry) TestPIN(ctx context.Context, slot uint, pin string) bool {
	if ctx.Err() != nil {
		return false
	}
	err := r.withSession(slot, pin, func(Module, pkcs11.SessionHandle) error {
		return nil
	})
	if err != nil {
		r.logger.Debug("pin test failed", "slot", slot, "error", err)
	}
	return err == nil
}

func (r *Registry) readCertificate(m Module, sh pkcs11.SessionHandle, h pkcs11.ObjectHandle) (*types.CertificateInfo, error) {
	attrs, err := m.GetAttributeValue(sh, h, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}

	var der, label, id []byte
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_VALUE:
			der = a.Value
		case pkcs11.CKA_LABEL:
			label = a.Value
		case pkcs11.CKA_ID:
			id = a.Value
		}
	}
	if len(der) == 0 {
		return nil, errors.New("empty certificate value")
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	info := NewCertificateInfo(cert, string(label), id)
	info.HasPrivateKey, err = hasPrivateKey(m, sh, id, label)
	if err != nil {
		return nil, fmt.Errorf("failed to find private key: %w", err)
	}
	info.CanSign = CanSign(info)
	return info, nil
}

// NewCertificateInfo describes cert. The subject and issuer fall back to
// the full distinguished name when no common name is set.
func NewCertificateInfo(cert *x509.Certificate, label string, keyID []byte) *types.CertificateInfo {
	subject := cert.Subject.CommonName
	if subject == "" {
		subject = cert.Subject.String()
	}
	issuer := cert.Issuer.CommonName
	if issuer == "" {
		issuer = cert.Issuer.String()
	}
	label = trimPadded(label)
	if label == "" {
		label = subject
	}
	return &types.CertificateInfo{
		Label:            label,
		SubjectCN:        subject,
		IssuerCN:         issuer,
		Serial:           fmt.Sprintf("%x", cert.SerialNumber),
		NotBefore:        cert.NotBefore,
		NotAfter:         cert.NotAfter,
		KeyID:            keyID,
		DigitalSignature: cert.KeyUsage&x509.KeyUsageDigitalSignature != 0,
		NonRepudiation:   cert.KeyUsage&x509.KeyUsageContentCommitment != 0,
		Certificate:      cert,
	}
}

// CanSign reports whether a certificate is usable for document signing.
// Only the presence of the private key counts; key usage bits are shown
// to the user but never filter, since some cards mark their signing
// certificate for key encipherment only.
func CanSign(c *types.CertificateInfo) bool {
	return c.HasPrivateKey
}

func hasPrivateKey(m Module, sh pkcs11.SessionHandle, id, label []byte) (bool, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	switch {
	case len(id) > 0:
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	case len(label) > 0:
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	default:
		return false, nil
	}
	handles, err := findAll(m, sh, template)
	if err != nil {
		return false, err
	}
	return len(handles) > 0, nil
}

func findAll(m Module, sh pkcs11.SessionHandle, template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := m.FindObjectsInit(sh, template); err != nil {
		return nil, err
	}
	var all []pkcs11.ObjectHandle
	for {
		batch, _, err := m.FindObjects(sh, findBatchSize)
		if err != nil {
			_ = m.FindObjectsFinal(sh)
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < findBatchSize {
			break
		}
	}
	if err := m.FindObjectsFinal(sh); err != nil {
		return nil, err
	}
	return all, nil
}

// withModule loads and initializes the module, runs fn and finalizes.
func (r *Registry) withModule(fn func(Module) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.library == "" {
		return fmt.Errorf("%w: no library configured", types.ErrLibraryNotFound)
	}
	m, err := r.loader(r.library)
	if err != nil {
		if errors.Is(err, types.ErrBackendUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrModuleLoad, err)
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrModuleLoad, r.library)
	}
	defer m.Destroy()

	if err := m.Initialize(); err != nil {
		if err != pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
			return fmt.Errorf("%w: failed to initialize PKCS#11: %v", types.ErrBackendUnavailable, err)
		}
		// Someone else owns the initialization; leave it in place.
		return fn(m)
	}
	defer func() {
		if err := m.Finalize(); err != nil {
			r.logger.Warn("failed to finalize PKCS#11 module", "error", err)
		}
	}()
	return fn(m)
}

// withSession opens a logged-in session on slot for the duration of fn.
func (r *Registry) withSession(slot uint, pin string, fn func(Module, pkcs11.SessionHandle) error) error {
	return r.withModule(func(m Module) error {
		slots, err := m.GetSlotList(true)
		if err != nil {
			return fmt.Errorf("%w: failed to get slot list: %v", types.ErrTokenError, err)
		}
		if !slices.Contains(slots, slot) {
			return fmt.Errorf("%w: slot %d", types.ErrSlotNotFound, slot)
		}

		sh, err := m.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
		if err != nil {
			return fmt.Errorf("%w: failed to open session: %v", types.ErrTokenError, err)
		}
		defer func() {
			if err := m.CloseSession(sh); err != nil {
				r.logger.Warn("failed to close session", "slot", slot, "error", err)
			}
		}()

		if err := m.Login(sh, pkcs11.CKU_USER, pin); err != nil {
			if err != pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
				return ClassifyLoginError(err)
			}
		} else {
			defer func() {
				_ = m.Logout(sh)
			}()
		}
		return fn(m, sh)
	})
}

// trimPadded strips the blank and NUL padding of fixed-width PKCS#11 fields.
func trimPadded(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}
