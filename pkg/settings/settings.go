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

// Package settings persists the last used stamp appearance and PKCS#11
// library path in a small JSON document. Writes merge into the existing
// document so keys owned by other tools survive.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/storage"
	"github.com/jeremyhahn/go-pdfsign/pkg/storage/file"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

const (
	// FileName is the storage key of the settings document.
	FileName = "settings.json"

	// AppDirName is the directory below the user config directory.
	AppDirName = "pdfsign-luxtrust"

	KeyAppearance = "signature_appearance"
	KeyLibrary    = "pkcs11_library"
)

// DefaultDir returns ~/.config/pdfsign-luxtrust.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// Store reads and writes the settings document.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	logger  *logging.Logger
	stat    func(string) (os.FileInfo, error)
	// dir is the storage root when the Store was opened on a directory.
	dir string
}

// New returns a Store over backend.
func New(backend storage.Backend, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Store{backend: backend, logger: logger, stat: os.Stat}
}

// Open returns a Store persisting to dir, or DefaultDir when dir is empty.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
	}
	backend, err := file.New(dir)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	s := New(backend, logger)
	s.dir = backend.Root()
	return s, nil
}

// Path returns the settings file location, or "" when the Store was not
// opened on a directory.
func (s *Store) Path() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, FileName)
}

// Close closes the underlying storage.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Appearance returns the saved appearance. ok is false when nothing usable
// is stored. Missing fields take their defaults, an unknown kind becomes
// text and an image path that no longer exists is dropped.
func (s *Store) Appearance() (appearance types.SignatureAppearance, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found := s.read()[KeyAppearance]
	if !found || string(raw) == "null" {
		return types.SignatureAppearance{}, false
	}
	a := types.DefaultAppearance()
	if err := json.Unmarshal(raw, &a); err != nil {
		s.logger.Warn("ignoring saved signature appearance", "error", err)
		return types.SignatureAppearance{}, false
	}
	if !a.Kind.IsValid() {
		a.Kind = types.AppearanceText
	}
	if a.ImagePath != "" {
		if _, err := s.stat(a.ImagePath); err != nil {
			s.logger.Debug("saved stamp image no longer exists", "path", a.ImagePath)
			a.ImagePath = ""
		}
	}
	return a, true
}

// SetAppearance saves a. Image bytes are not persisted, only the path.
func (s *Store) SetAppearance(a types.SignatureAppearance) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return s.merge(KeyAppearance, raw)
}

// Library returns the saved PKCS#11 library path, or "".
func (s *Store) Library() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found := s.read()[KeyLibrary]
	if !found {
		return ""
	}
	var path string
	if err := json.Unmarshal(raw, &path); err != nil {
		return ""
	}
	return path
}

// SetLibrary saves the PKCS#11 library path.
func (s *Store) SetLibrary(path string) error {
	raw, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return s.merge(KeyLibrary, raw)
}

// merge replaces key in the stored document and writes it back.
func (s *Store) merge(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.read()
	doc[key] = value
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := s.backend.Put(FileName, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

// read returns the stored document, or an empty one when it is missing or
// unreadable.
func (s *Store) read() map[string]json.RawMessage {
	doc := make(map[string]json.RawMessage)
	exists, err := s.backend.Exists(FileName)
	if err != nil || !exists {
		if err != nil {
			s.logger.Warn("cannot read settings", "error", err)
		}
		return doc
	}
	data, err := s.backend.Get(FileName)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("cannot read settings", "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("ignoring malformed settings", "error", err)
		return make(map[string]json.RawMessage)
	}
	return doc
}
