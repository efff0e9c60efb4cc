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

package pin

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// ErrCancelled is returned by a Prompter when the user aborts entry.
var ErrCancelled = errors.New("pin: entry cancelled")

// Prompter asks the user for a PIN. remaining is the number of attempts
// left, shown so the user knows how close the card is to locking.
type Prompter interface {
	Prompt(ctx context.Context, remaining int) (*Value, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, remaining int) (*Value, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, remaining int) (*Value, error) {
	return f(ctx, remaining)
}

// VerifyFunc checks a PIN against the token.
type VerifyFunc func(ctx context.Context, pin string) error

// Unlock prompts and verifies until the PIN is accepted, the prompter
// cancels, a non-PIN error occurs or the tracker refuses another prompt.
// The accepted PIN is returned; every rejected Value is cleared.
func Unlock(ctx context.Context, tracker *Tracker, prompter Prompter, verify VerifyFunc) (*Value, error) {
	for {
		if err := tracker.Wait(ctx); err != nil {
			return nil, err
		}

		value, err := prompter.Prompt(ctx, tracker.Remaining())
		if err != nil {
			return nil, err
		}
		s, err := value.String()
		if err != nil {
			return nil, err
		}

		err = verify(ctx, s)
		tracker.Record(err)
		if err == nil {
			return value, nil
		}
		value.Clear()

		if !errors.Is(err, types.ErrInvalidPIN) {
			return nil, err
		}
		if tracker.Locked() {
			return nil, fmt.Errorf("%w: %w", ErrAttemptsExhausted, err)
		}
	}
}
