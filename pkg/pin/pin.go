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

// Package pin handles token PINs: holding them only as long as one session
// open needs them, and enforcing the attempt budget that protects a card
// from its own hard lockout.
package pin

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrEmptyPIN is returned when an empty PIN is provided.
	ErrEmptyPIN = errors.New("pin: PIN cannot be empty")

	// ErrPINCleared is returned when the PIN has been zeroed.
	ErrPINCleared = errors.New("pin: PIN has been cleared")
)

// Value stores a PIN in memory until Clear is called.
type Value struct {
	pin []byte
}

// New copies pin into a new Value.
func New(pin []byte) (*Value, error) {
	if len(pin) == 0 {
		return nil, ErrEmptyPIN
	}
	p := make([]byte, len(pin))
	copy(p, pin)
	return &Value{pin: p}, nil
}

// FromString creates a Value from a string.
func FromString(pin string) (*Value, error) {
	if len(pin) == 0 {
		return nil, ErrEmptyPIN
	}
	return &Value{pin: []byte(pin)}, nil
}

// String returns the PIN as a string.
func (v *Value) String() (string, error) {
	if v.pin == nil {
		return "", ErrPINCleared
	}
	return string(v.pin), nil
}

// Bytes returns a copy of the PIN.
func (v *Value) Bytes() []byte {
	if v.pin == nil {
		return nil
	}
	result := make([]byte, len(v.pin))
	copy(result, v.pin)
	return result
}

// Len returns the PIN length, or 0 after Clear.
func (v *Value) Len() int {
	return len(v.pin)
}

// Clear zeroes the PIN. Subsequent String calls fail.
func (v *Value) Clear() {
	if v.pin != nil {
		for i := range v.pin {
			v.pin[i] = 0
		}
		subtle.ConstantTimeCopy(1, v.pin, make([]byte, len(v.pin)))
		v.pin = nil
	}
}

// Equal compares two PINs in constant time.
func Equal(a, b *Value) (bool, error) {
	if a.pin == nil || b.pin == nil {
		return false, ErrPINCleared
	}
	return subtle.ConstantTimeCompare(a.pin, b.pin) == 1, nil
}

// GoString masks the PIN in %#v output.
func (v *Value) GoString() string {
	return "pin.Value{****}"
}
