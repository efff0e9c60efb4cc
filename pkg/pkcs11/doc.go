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

// Package pkcs11 discovers PKCS#11 middleware libraries and enumerates the
// tokens and signing certificates they expose.
//
// The package has two parts:
//
//   - Locator resolves a library path, either from an explicit setting or
//     by probing a platform-keyed list of well-known installation paths
//     (LuxTrust, Gemalto ClassicClient and OpenSC middleware).
//   - Registry opens the library, lists tokens, lists the certificates of
//     an unlocked token and tests PINs. Every call opens its own session
//     and closes it before returning; nothing is cached between calls.
//
// Example Usage:
//
//	path, err := pkcs11.NewLocator().Locate("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry := pkcs11.NewRegistry(path)
//	tokens, err := registry.ListTokens(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	certs, err := registry.ListCertificates(ctx, tokens[0].SlotID, "1234")
//	if errors.Is(err, types.ErrInvalidPIN) {
//	    // prompt again
//	}
//
// Only certificates backed by a private key with a signing key usage are
// returned. Certificates that cannot be read or parsed are logged and
// skipped.
package pkcs11
