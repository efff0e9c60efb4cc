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
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process
// was killed, in case grandchildren keep them open.
const waitDelay = 2 * time.Second

// Output is what a finished helper process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes argv[0] with the remaining arguments. A non-zero exit is
// reported through Output.ExitCode, not the error; the error is reserved
// for processes that could not be started or were stopped by ctx.
type Runner interface {
	Run(ctx context.Context, argv []string) (*Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, argv []string) (*Output, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, argv []string) (*Output, error) {
	return f(ctx, argv)
}

// ExecRunner runs the helper with os/exec.
type ExecRunner struct{}

// Run implements Runner. The process is killed when ctx ends.
func (ExecRunner) Run(ctx context.Context, argv []string) (*Output, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, err
	}
	return out, nil
}
