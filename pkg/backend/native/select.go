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
	"crypto"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// SelectCertificate picks the signing certificate. An explicit selector
// must match exactly one certificate. Without a selector, certificates
// valid at now are preferred over expired or not yet valid ones; among
// those the single certificate wins, then the single non-repudiation
// certificate, then the single one allowing digitalSignature. Anything
// else is ambiguous.
func SelectCertificate(certs []types.CertificateInfo, sel types.CertificateSelector, now time.Time) (*types.CertificateInfo, error) {
	if !sel.IsAuto() {
		match := filter(certs, sel.Matches)
		switch len(match) {
		case 0:
			return nil, fmt.Errorf("%w: %s", types.ErrCertificateNotFound, sel)
		case 1:
			return match[0], nil
		default:
			return nil, fmt.Errorf("%w: %d certificates match %s", types.ErrAmbiguousCertificate, len(match), sel)
		}
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no signing certificate on token", types.ErrCertificateNotFound)
	}
	candidates := filter(certs, func(c *types.CertificateInfo) bool { return c.ValidAt(now) })
	if len(candidates) == 0 {
		candidates = filter(certs, func(*types.CertificateInfo) bool { return true })
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for _, pick := range []func(*types.CertificateInfo) bool{
		func(c *types.CertificateInfo) bool { return c.NonRepudiation },
		func(c *types.CertificateInfo) bool { return c.DigitalSignature || c.NonRepudiation },
	} {
		if preferred := filterPtr(candidates, pick); len(preferred) == 1 {
			return preferred[0], nil
		}
	}
	return nil, fmt.Errorf("%w: %d signing certificates, select one by label or key id",
		types.ErrAmbiguousCertificate, len(candidates))
}

func filter(certs []types.CertificateInfo, keep func(*types.CertificateInfo) bool) []*types.CertificateInfo {
	var out []*types.CertificateInfo
	for i := range certs {
		if keep(&certs[i]) {
			out = append(out, &certs[i])
		}
	}
	return out
}

func filterPtr(certs []*types.CertificateInfo, keep func(*types.CertificateInfo) bool) []*types.CertificateInfo {
	var out []*types.CertificateInfo
	for _, c := range certs {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// publicKeysMatch reports whether the signer's key belongs to the
// certificate.
func publicKeysMatch(signer crypto.Signer, cert *types.CertificateInfo) bool {
	if cert.Certificate == nil {
		return false
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return pub.Equal(cert.Certificate.PublicKey)
}
