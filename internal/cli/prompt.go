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

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeremyhahn/go-pdfsign/pkg/pin"
)

// linePrompter reads one PIN per attempt. On a terminal the PIN is read
// without echo; piped input is read line by line. The prompt goes to out
// so that standard output stays machine readable.
type linePrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
	// readPassword is set when input is a terminal.
	readPassword func() ([]byte, error)
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	p := &linePrompter{scanner: bufio.NewScanner(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// Prompt implements pin.Prompter. End of input cancels entry.
func (p *linePrompter) Prompt(ctx context.Context, remaining int) (*pin.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprintf(p.out, "PIN (%d attempts remaining): ", remaining)
	if p.readPassword != nil {
		return p.readHidden()
	}
	if !p.scanner.Scan() {
		fmt.Fprintln(p.out)
		if err := p.scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", pin.ErrCancelled, err)
		}
		return nil, pin.ErrCancelled
	}
	line := strings.TrimRight(p.scanner.Text(), "\r")
	return pin.FromString(line)
}

func (p *linePrompter) readHidden() (*pin.Value, error) {
	b, err := p.readPassword()
	// The terminal swallowed the newline.
	fmt.Fprintln(p.out)
	defer func() {
		for i := range b {
			b[i] = 0
		}
	}()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, pin.ErrCancelled
		}
		return nil, fmt.Errorf("%w: %v", pin.ErrCancelled, err)
	}
	return pin.New(b)
}

var _ pin.Prompter = (*linePrompter)(nil)
