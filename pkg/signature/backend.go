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

package signature

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pdfsign/pkg/backend/delegated"
	"github.com/jeremyhahn/go-pdfsign/pkg/backend/native"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// BackendConfig selects and configures the signing backend.
type BackendConfig struct {
	Type types.BackendType

	// Library is an explicit PKCS#11 library path. When empty the
	// well-known locations are searched.
	Library string

	Delegated delegated.Config

	// Locator overrides library discovery.
	Locator *pkcs11.Locator
	Logger  *logging.Logger
}

// NewBackend builds the backend named by cfg.Type. The native backend
// requires a PKCS#11 library; the delegated helper falls back to its own
// default when none is found.
func NewBackend(cfg *BackendConfig) (types.Backend, error) {
	if cfg == nil {
		cfg = &BackendConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	locator := cfg.Locator
	if locator == nil {
		locator = pkcs11.NewLocator()
	}
	kind := cfg.Type
	if kind == "" {
		kind = types.BackendNative
	}

	library, err := locator.Locate(cfg.Library)
	switch kind {
	case types.BackendNative:
		if err != nil {
			return nil, err
		}
		logger.Debug("using native backend", "library", library)
		b, err := native.New(library, native.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil

	case types.BackendDelegated:
		if err != nil {
			if cfg.Library != "" || !errors.Is(err, types.ErrLibraryNotFound) {
				return nil, err
			}
			logger.Warn("no PKCS#11 library found, using the helper default")
		}
		dc := cfg.Delegated
		dc.Library = library
		b, err := delegated.New(&dc, delegated.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", types.ErrInvalidRequest, kind)
}
