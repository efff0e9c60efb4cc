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
	"context"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// EventType identifies a signing progress notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one notification from an asynchronous signing job.
type Event struct {
	Type    EventType
	Message string
	Result  *types.SignatureResult
	Err     error
}

// Job is one signing operation.
type Job struct {
	Input    string
	Output   string
	PIN      string
	Config   *types.SignatureConfig
	Selector types.CertificateSelector
}

// SignAsync runs job on its own goroutine. The returned channel receives
// EventStarted, EventProgress and then exactly one of EventCompleted or
// EventFailed before it is closed. Readers may stop early; the channel
// holds every event of the job.
func (o *Orchestrator) SignAsync(ctx context.Context, job Job) <-chan Event {
	events := make(chan Event, 4)
	go func() {
		defer close(events)
		events <- Event{Type: EventStarted, Message: "signing " + job.Input}
		events <- Event{Type: EventProgress, Message: "waiting for token"}

		result, err := o.Sign(ctx, job.Input, job.Output, job.PIN, job.Config, job.Selector)
		if err != nil {
			events <- Event{Type: EventFailed, Message: err.Error(), Result: result, Err: err}
			return
		}
		events <- Event{Type: EventCompleted, Message: "signed " + result.OutputPath, Result: result}
	}()
	return events
}
