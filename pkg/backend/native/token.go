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

	"github.com/ThalesGroup/crypto11"

	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// Token is a logged-in token able to produce signers for its key pairs.
type Token interface {
	// FindKeyPair returns the signer for the key pair with the given
	// CKA_ID or CKA_LABEL, or nil when none matches.
	FindKeyPair(id, label []byte) (crypto.Signer, error)
	Close() error
}

// TokenOpener logs into the token in slot of the given library.
type TokenOpener func(library string, slot uint, pin string) (Token, error)

// crypto11Token adapts a crypto11 context to Token.
type crypto11Token struct {
	ctx *crypto11.Context
}

// OpenCrypto11 is the default TokenOpener.
func OpenCrypto11(library string, slot uint, pin string) (Token, error) {
	slotNumber := int(slot)
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:       library,
		SlotNumber: &slotNumber,
		Pin:        pin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure PKCS#11 context: %w", pkcs11.ClassifyLoginError(err))
	}
	return &crypto11Token{ctx: ctx}, nil
}

func (t *crypto11Token) FindKeyPair(id, label []byte) (crypto.Signer, error) {
	signer, err := t.ctx.FindKeyPair(id, label)
	if err != nil {
		return nil, fmt.Errorf("%w: find key pair: %v", types.ErrTokenError, err)
	}
	if signer == nil {
		return nil, nil
	}
	return signer, nil
}

func (t *crypto11Token) Close() error {
	return t.ctx.Close()
}
