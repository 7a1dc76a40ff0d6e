package bootstrap

import (
	"fmt"
	"sync"
	"time"
)

// Step names a point in the bootstrap sequence.
type Step string

const (
	StepEagerPlugins Step = "eager-plugins"
	StepEager        Step = "eager"
	StepLazyPlugins  Step = "lazy-plugins"
	StepLazy         Step = "lazy"
	StepAnalytics    Step = "analytics"
	StepDelayed      Step = "delayed"
)

// ProgressStatus is the state of a step.
type ProgressStatus string

const (
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// ProgressEvent is emitted as the bootstrap advances.
type ProgressEvent struct {
	Step    Step           `json:"step"`
	Status  ProgressStatus `json:"status"`
	Message string         `json:"message,omitempty"`
	At      time.Time      `json:"at"`
}

// ProgressReporter emits progress events through a buffered channel.
// Emitting after Close is a no-op, since the delayed stage may finish after
// a consumer has stopped listening.
type ProgressReporter struct {
	mu     sync.Mutex
	closed bool
	ch     chan ProgressEvent
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event in a non-blocking fashion.
// If the channel is full, the event is silently dropped.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel. It is safe to call more than once.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	pr.closed = true
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressWorking:
		return fmt.Sprintf("  ● %s...", event.Step)
	case ProgressComplete:
		if event.Message != "" {
			return fmt.Sprintf("  ✓ %s complete (%s)", event.Step, event.Message)
		}
		return fmt.Sprintf("  ✓ %s complete", event.Step)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Step, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Step)
	}
}
