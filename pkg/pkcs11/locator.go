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
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

const (
	defaultProgramFiles    = `C:\Program Files`
	defaultProgramFilesX86 = `C:\Program Files (x86)`
	luxTrustWindowsDir     = `LuxTrust\LuxTrust Middleware\lux_p11.dll`
)

var linuxCandidates = []string{
	"/usr/lib/pkcs11/libgclib.so",
	"/usr/lib/ClassicClient/libgclib.so",
	"/usr/lib/x86_64-linux-gnu/liblux_p11.so",
	"/usr/lib/liblux_p11.so",
	"/opt/LuxTrust/lib/liblux_p11.so",
	"/usr/local/lib/liblux_p11.so",
	"/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so",
	"/usr/lib/opensc-pkcs11.so",
}

var darwinCandidates = []string{
	"/Library/LuxTrust/lib/liblux_p11.dylib",
	"/usr/local/lib/liblux_p11.dylib",
}

// LibraryCandidate is one well-known library location.
type LibraryCandidate struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// Locator resolves a PKCS#11 library path for one operating system.
type Locator struct {
	// GOOS selects the candidate list and the native library suffix.
	GOOS string
	// Getenv reads environment variables used in Windows paths.
	Getenv func(string) string
	// Stat inspects candidate paths.
	Stat func(string) (os.FileInfo, error)
}

// NewLocator returns a Locator for the running platform.
func NewLocator() *Locator {
	return &Locator{
		GOOS:   runtime.GOOS,
		Getenv: os.Getenv,
		Stat:   os.Stat,
	}
}

// NativeSuffix returns the shared library suffix for goos.
func NativeSuffix(goos string) string {
	switch goos {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// Paths returns the ordered candidate paths for the locator's platform.
func (l *Locator) Paths() []string {
	switch l.GOOS {
	case "windows":
		pf := l.getenv("PROGRAMFILES", defaultProgramFiles)
		pf86 := l.getenv("PROGRAMFILES(X86)", defaultProgramFilesX86)
		return []string{
			pf + `\` + luxTrustWindowsDir,
			pf86 + `\` + luxTrustWindowsDir,
			`C:\Windows\System32\opensc-pkcs11.dll`,
		}
	case "darwin":
		return append([]string(nil), darwinCandidates...)
	default:
		return append([]string(nil), linuxCandidates...)
	}
}

// Candidates returns every known location with its existence flag.
func (l *Locator) Candidates() []LibraryCandidate {
	paths := l.Paths()
	out := make([]LibraryCandidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, LibraryCandidate{
			Path:   p,
			Name:   l.base(p),
			Exists: l.Validate(p) == nil,
		})
	}
	return out
}

// Locate returns explicit after validating it, or the first existing
// well-known library when explicit is empty.
func (l *Locator) Locate(explicit string) (string, error) {
	if explicit != "" {
		if err := l.Validate(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	for _, p := range l.Paths() {
		if l.Validate(p) == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no library found for %s", types.ErrLibraryNotFound, l.GOOS)
}

// Validate checks that p exists, is a regular file and carries the
// platform's native library suffix. Versioned names such as
// libfoo.so.1 are accepted.
func (l *Locator) Validate(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", types.ErrLibraryNotFound)
	}
	if !l.hasNativeSuffix(p) {
		return fmt.Errorf("%w: %s (expected %s)", ErrWrongSuffix, p, NativeSuffix(l.GOOS))
	}
	stat := l.Stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(p)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrLibraryNotFound, p)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", types.ErrLibraryNotFound, p)
	}
	return nil
}

func (l *Locator) hasNativeSuffix(p string) bool {
	name := strings.ToLower(l.base(p))
	suffix := NativeSuffix(l.GOOS)
	if strings.HasSuffix(name, suffix) {
		return true
	}
	return l.GOOS != "windows" && strings.Contains(name, suffix+".")
}

func (l *Locator) base(p string) string {
	if l.GOOS == "windows" {
		p = strings.ReplaceAll(p, `\`, "/")
	}
	return path.Base(p)
}

func (l *Locator) getenv(key, fallback string) string {
	if l.Getenv == nil {
		return fallback
	}
	if v := l.Getenv(key); v != "" {
		return v
	}
	return fallback
}
