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

package mocks

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/miekg/pkcs11"
)

// Object is one object stored on a mock token.
type Object struct {
	Class uint
	ID    []byte
	Label []byte
	Value []byte

	// AttrErr is returned by GetAttributeValue for this object.
	AttrErr error
}

// Token is a mock token inserted in a slot.
type Token struct {
	Info    pkcs11.TokenInfo
	PIN     string
	Objects []Object
}

// MockModule is an in-memory implementation of the registry's Module
// interface. It simulates a PKCS#11 library with tokens in numbered slots.
//
// The mock supports:
//   - Slot and token enumeration
//   - PIN verification with CKR_PIN_INCORRECT on mismatch
//   - Object search by class, id and label
//   - Error injection for testing
//   - Session accounting
//
// Example usage:
//
//	mock := mocks.NewMockModule()
//	mock.Tokens[0] = &mocks.Token{PIN: "1234", Objects: objs}
//	reg := pkcs11.NewRegistry("libtest.so", pkcs11.WithLoader(
//	    func(string) (pkcs11.Module, error) { return mock, nil }))
type MockModule struct {
	mu sync.Mutex

	Tokens map[uint]*Token

	// Error injection.
	InitializeErr  error
	SlotListErr    error
	OpenSessionErr error
	LoginErr       error
	FindErr        error

	// Accounting.
	Initialized    int
	Finalized      int
	Destroyed      int
	OpenedSessions int
	ClosedSessions int
	LoggedIn       int
	LoggedOut      int
	LoginPINs      []string

	nextSession pkcs11.SessionHandle
	sessions    map[pkcs11.SessionHandle]uint
	found       map[pkcs11.SessionHandle][]pkcs11.ObjectHandle
}

// NewMockModule creates an empty mock module.
func NewMockModule() *MockModule {
	return &MockModule{
		Tokens:   make(map[uint]*Token),
		sessions: make(map[pkcs11.SessionHandle]uint),
		found:    make(map[pkcs11.SessionHandle][]pkcs11.ObjectHandle),
	}
}

// OpenSessionCount returns the number of sessions not yet closed.
func (m *MockModule) OpenSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MockModule) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InitializeErr != nil {
		return m.InitializeErr
	}
	m.Initialized++
	return nil
}

func (m *MockModule) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finalized++
	return nil
}

func (m *MockModule) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Destroyed++
}

func (m *MockModule) GetSlotList(tokenPresent bool) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SlotListErr != nil {
		return nil, m.SlotListErr
	}
	slots := make([]uint, 0, len(m.Tokens))
	for id := range m.Tokens {
		slots = append(slots, id)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}

func (m *MockModule) GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.Tokens[slotID]
	if !ok {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return tok.Info, nil
}

func (m *MockModule) OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenSessionErr != nil {
		return 0, m.OpenSessionErr
	}
	if _, ok := m.Tokens[slotID]; !ok {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	m.nextSession++
	m.sessions[m.nextSession] = slotID
	m.OpenedSessions++
	return m.nextSession, nil
}

func (m *MockModule) CloseSession(sh pkcs11.SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sh]; !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	delete(m.sessions, sh)
	delete(m.found, sh)
	m.ClosedSessions++
	return nil
}

func (m *MockModule) Login(sh pkcs11.SessionHandle, userType uint, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoginPINs = append(m.LoginPINs, pin)
	if m.LoginErr != nil {
		return m.LoginErr
	}
	slot, ok := m.sessions[sh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	if m.Tokens[slot].PIN != pin {
		return pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	}
	m.LoggedIn++
	return nil
}

func (m *MockModule) Logout(sh pkcs11.SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoggedOut++
	return nil
}

func (m *MockModule) FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return m.FindErr
	}
	slot, ok := m.sessions[sh]
	if !ok {
		return pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	var handles []pkcs11.ObjectHandle
	for i, obj := range m.Tokens[slot].Objects {
		if matches(obj, temp) {
			handles = append(handles, handleFor(i))
		}
	}
	m.found[sh] = handles
	return nil
}

func (m *MockModule) FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.found[sh]
	if max > len(pending) {
		max = len(pending)
	}
	batch := pending[:max]
	m.found[sh] = pending[max:]
	return batch, false, nil
}

func (m *MockModule) FindObjectsFinal(sh pkcs11.SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.found, sh)
	return nil
}

func (m *MockModule) GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.sessions[sh]
	if !ok {
		return nil, pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	}
	objs := m.Tokens[slot].Objects
	idx := int(o) - 1
	if idx < 0 || idx >= len(objs) {
		return nil, pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	obj := objs[idx]
	if obj.AttrErr != nil {
		return nil, obj.AttrErr
	}

	out := make([]*pkcs11.Attribute, 0, len(a))
	for _, attr := range a {
		switch attr.Type {
		case pkcs11.CKA_VALUE:
			out = append(out, pkcs11.NewAttribute(pkcs11.CKA_VALUE, obj.Value))
		case pkcs11.CKA_LABEL:
			out = append(out, pkcs11.NewAttribute(pkcs11.CKA_LABEL, obj.Label))
		case pkcs11.CKA_ID:
			out = append(out, pkcs11.NewAttribute(pkcs11.CKA_ID, obj.ID))
		default:
			return nil, errors.New("mock: unsupported attribute")
		}
	}
	return out, nil
}

func handleFor(i int) pkcs11.ObjectHandle {
	return pkcs11.ObjectHandle(i + 1)
}

func matches(obj Object, template []*pkcs11.Attribute) bool {
	for _, attr := range template {
		switch attr.Type {
		case pkcs11.CKA_CLASS:
			want := pkcs11.NewAttribute(pkcs11.CKA_CLASS, obj.Class).Value
			if !bytes.Equal(want, attr.Value) {
				return false
			}
		case pkcs11.CKA_ID:
			if !bytes.Equal(obj.ID, attr.Value) {
				return false
			}
		case pkcs11.CKA_LABEL:
			if !bytes.Equal(obj.Label, attr.Value) {
				return false
			}
		}
	}
	return true
}
