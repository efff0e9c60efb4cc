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
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

var (
	// ErrWrongSuffix is returned when a library does not carry the
	// platform's shared library suffix.
	ErrWrongSuffix = fmt.Errorf("%w: wrong library suffix", types.ErrLibraryNotFound)

	// ErrModuleLoad is returned when the library cannot be loaded.
	ErrModuleLoad = fmt.Errorf("%w: failed to load PKCS#11 module", types.ErrBackendUnavailable)
)

// ClassifyLoginError maps a PKCS#11 login failure onto the error taxonomy.
// PIN rejections become types.ErrInvalidPIN, a locked PIN becomes
// types.ErrTokenLocked and anything else types.ErrTokenError. Errors that
// are not PKCS#11 return codes are matched on the word "pin", which is how
// some middleware reports PIN failures through wrapped errors.
func ClassifyLoginError(err error) error {
	if err == nil {
		return nil
	}
	var rv pkcs11.Error
	if errors.As(err, &rv) {
		switch rv {
		case pkcs11.Error(pkcs11.CKR_PIN_LOCKED):
			return fmt.Errorf("%w: %v", types.ErrTokenLocked, err)
		case pkcs11.Error(pkcs11.CKR_PIN_INCORRECT),
			pkcs11.Error(pkcs11.CKR_PIN_INVALID),
			pkcs11.Error(pkcs11.CKR_PIN_LEN_RANGE),
			pkcs11.Error(pkcs11.CKR_PIN_EXPIRED):
			return fmt.Errorf("%w: %v", types.ErrInvalidPIN, err)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "pin") {
		return fmt.Errorf("%w: %v", types.ErrInvalidPIN, err)
	}
	return fmt.Errorf("%w: %v", types.ErrTokenError, err)
}
