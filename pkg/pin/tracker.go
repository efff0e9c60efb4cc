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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// MaxAttempts is the number of consecutive PIN failures tolerated before
// further prompts are refused. Cards typically lock after three.
const MaxAttempts = 3

var (
	// ErrAttemptsExhausted is returned once the attempt budget is spent.
	ErrAttemptsExhausted = errors.New("pin: no attempts remaining")

	// ErrThrottled is returned when attempts come faster than allowed.
	ErrThrottled = errors.New("pin: too many attempts, wait before retrying")
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MaxAttempts defaults to MaxAttempts.
	MaxAttempts int

	// MinInterval is the minimum spacing between attempts. Zero disables
	// throttling.
	MinInterval time.Duration
}

// Tracker counts consecutive PIN failures for one token.
type Tracker struct {
	mu        sync.Mutex
	max       int
	remaining int
	limiter   *rate.Limiter
}

// NewTracker creates a tracker. A nil config yields the defaults.
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = &TrackerConfig{}
	}
	max := config.MaxAttempts
	if max <= 0 {
		max = MaxAttempts
	}
	t := &Tracker{max: max, remaining: max}
	if config.MinInterval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(config.MinInterval), 1)
	}
	return t
}

// Remaining returns the number of attempts left.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Max returns the attempt budget.
func (t *Tracker) Max() int {
	return t.max
}

// Locked reports whether the budget is spent.
func (t *Tracker) Locked() bool {
	return t.Remaining() == 0
}

// Allow reports whether another attempt may be made now.
func (t *Tracker) Allow() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining <= 0 {
		return ErrAttemptsExhausted
	}
	if t.limiter != nil && !t.limiter.Allow() {
		return ErrThrottled
	}
	return nil
}

// Wait blocks until throttling permits another attempt.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	if t.remaining <= 0 {
		t.mu.Unlock()
		return ErrAttemptsExhausted
	}
	limiter := t.limiter
	t.mu.Unlock()

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Record updates the budget from the outcome of one attempt. Only
// types.ErrInvalidPIN consumes an attempt; a success restores the full
// budget and other errors leave it unchanged. A locked token spends the
// budget at once.
func (t *Tracker) Record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		t.remaining = t.max
	case errors.Is(err, types.ErrTokenLocked):
		t.remaining = 0
	case errors.Is(err, types.ErrInvalidPIN):
		if t.remaining > 0 {
			t.remaining--
		}
	}
}

// Reset restores the full budget.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = t.max
}

// Status describes the budget for display.
func (t *Tracker) Status() string {
	remaining := t.Remaining()
	if remaining == 0 {
		return "PIN entry locked"
	}
	return fmt.Sprintf("%d of %d attempts remaining", remaining, t.max)
}
