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

package delegated

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// JarName is the file name of the signing helper.
const JarName = "luxtrust-pdf-signer-1.0.0.jar"

var (
	// ErrRuntimeNotFound is returned when no Java runtime can be found.
	ErrRuntimeNotFound = fmt.Errorf("%w: java runtime not found", types.ErrBackendUnavailable)

	// ErrHelperNotFound is returned when the helper jar cannot be found.
	ErrHelperNotFound = fmt.Errorf("%w: signing helper not found", types.ErrBackendUnavailable)
)

// Locator resolves the Java runtime and the helper jar. The zero value
// uses the process environment and filesystem.
type Locator struct {
	// AppDir is the directory the helper is searched relative to first.
	// Defaults to the directory of the running executable.
	AppDir   string
	Getenv   func(string) string
	Stat     func(string) (os.FileInfo, error)
	LookPath func(string) (string, error)
}

// NewLocator returns a Locator bound to the running process.
func NewLocator() *Locator {
	return &Locator{
		Getenv:   os.Getenv,
		Stat:     os.Stat,
		LookPath: exec.LookPath,
	}
}

// JarPaths returns the well-known helper locations in search order.
func (l *Locator) JarPaths() []string {
	var paths []string
	if dir := l.appDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "java-signer", "target", JarName))
	}
	return append(paths,
		filepath.Join("/app", "java-signer", JarName),
		filepath.Join("/opt", "luxtrust-signer", JarName),
	)
}

// LocateJar returns explicit when it exists, otherwise the first existing
// well-known location.
func (l *Locator) LocateJar(explicit string) (string, error) {
	if explicit != "" {
		if !l.isFile(explicit) {
			return "", fmt.Errorf("%w: %s", ErrHelperNotFound, explicit)
		}
		return explicit, nil
	}
	for _, p := range l.JarPaths() {
		if l.isFile(p) {
			return p, nil
		}
	}
	return "", ErrHelperNotFound
}

// LocateJava returns explicit when it exists, then $JAVA_HOME/bin/java,
// then java from PATH.
func (l *Locator) LocateJava(explicit string) (string, error) {
	if explicit != "" {
		if !l.isFile(explicit) {
			return "", fmt.Errorf("%w: %s", ErrRuntimeNotFound, explicit)
		}
		return explicit, nil
	}
	if home := l.getenv("JAVA_HOME"); home != "" {
		p := filepath.Join(home, "bin", javaBinary())
		if l.isFile(p) {
			return p, nil
		}
	}
	lookPath := l.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	p, err := lookPath("java")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrRuntimeNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRuntimeNotFound, err)
	}
	return p, nil
}

func (l *Locator) appDir() string {
	if l.AppDir != "" {
		return l.AppDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func (l *Locator) isFile(p string) bool {
	stat := l.Stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(p)
	return err == nil && !info.IsDir()
}

func (l *Locator) getenv(key string) string {
	if l.Getenv == nil {
		return os.Getenv(key)
	}
	return l.Getenv(key)
}

func javaBinary() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}
