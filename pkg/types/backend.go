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

import "context"

// Backend is a signing backend. Implementations must be interchangeable
// behind the orchestrator; the active one is chosen once from
// configuration.
type Backend interface {
	// Type returns the backend type identifier.
	Type() BackendType

	// ListTokens returns one entry per slot holding a token. No token is
	// an empty list, not an error.
	ListTokens(ctx context.Context) ([]TokenInfo, error)

	// ListCertificates opens a session on slot with pin and returns the
	// certificates that can sign.
	ListCertificates(ctx context.Context, slot uint, pin string) ([]CertificateInfo, error)

	// Sign signs req.InputPath into req.OutputPath. A result with
	// Success=false is returned together with a nil error when the backend
	// completed but reported failure.
	Sign(ctx context.Context, req *SignRequest) (*SignatureResult, error)
}
