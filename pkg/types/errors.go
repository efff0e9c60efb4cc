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
)

// Error taxonomy. Every failure that reaches the orchestrator wraps exactly
// one of the first eight kinds; the remaining sentinels are refinements
// that also wrap one of them.
var (
	// ErrLibraryNotFound indicates that no valid PKCS#11 library was located.
	ErrLibraryNotFound = errors.New("pkcs11 library not found")

	// ErrBackendUnavailable indicates that the library was found but could
	// not be loaded, or that a delegated helper could not be started.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidPIN indicates that the token rejected the PIN.
	ErrInvalidPIN = errors.New("invalid PIN")

	// ErrTokenError indicates an enumeration or session failure that is not
	// attributable to the PIN.
	ErrTokenError = errors.New("token error")

	// ErrBackendTimeout indicates that the delegated process exceeded its
	// time budget.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBackendError indicates that the delegated process failed without
	// producing a result.
	ErrBackendError = errors.New("backend error")

	// ErrProtocolError indicates unparsable output from the delegated process.
	ErrProtocolError = errors.New("protocol error")

	// ErrSigningFailed indicates that the signing step itself failed.
	ErrSigningFailed = errors.New("signing failed")

	// ErrInvalidRequest indicates a malformed signing request.
	ErrInvalidRequest = errors.New("invalid request")
)

var (
	// ErrTokenLocked indicates that the token locked the PIN.
	ErrTokenLocked = fmt.Errorf("%w: PIN locked", ErrTokenError)

	// ErrSlotNotFound indicates that no token is present in the slot.
	ErrSlotNotFound = fmt.Errorf("%w: slot not found", ErrTokenError)

	// ErrCertificateNotFound indicates that no certificate matched the selector.
	ErrCertificateNotFound = fmt.Errorf("%w: certificate not found", ErrSigningFailed)

	// ErrAmbiguousCertificate indicates that several certificates could sign
	// and no selector narrowed the choice.
	ErrAmbiguousCertificate = fmt.Errorf("%w: multiple signing certificates, a selector is required", ErrSigningFailed)

	// ErrKeyMismatch indicates that the private key found for a certificate
	// does not belong to it.
	ErrKeyMismatch = fmt.Errorf("%w: private key does not match certificate", ErrSigningFailed)
)

// ErrorKind names a taxonomy entry, suitable for metric labels and
// machine-readable output.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindLibraryNotFound    ErrorKind = "library_not_found"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindInvalidPIN         ErrorKind = "invalid_pin"
	KindTokenError         ErrorKind = "token_error"
	KindBackendTimeout     ErrorKind = "backend_timeout"
	KindBackendError       ErrorKind = "backend_error"
	KindProtocolError      ErrorKind = "protocol_error"
	KindSigningFailed      ErrorKind = "signing_failed"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindUnknown            ErrorKind = "unknown"
)

// kindOrder is checked first to last. More specific kinds come before
// ErrSigningFailed because the orchestrator wraps backend failures in it.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidPIN, KindInvalidPIN},
	{ErrLibraryNotFound, KindLibraryNotFound},
	{ErrBackendUnavailable, KindBackendUnavailable},
	{ErrBackendTimeout, KindBackendTimeout},
	{ErrProtocolError, KindProtocolError},
	{ErrBackendError, KindBackendError},
	{ErrTokenError, KindTokenError},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrSigningFailed, KindSigningFailed},
}

// Kind classifies err into the taxonomy.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may retry the operation, possibly
// after prompting for a new PIN.
func IsRetryable(err error) bool {
	switch Kind(err) {
	case KindInvalidPIN, KindBackendTimeout:
		return true
	}
	return false
}
