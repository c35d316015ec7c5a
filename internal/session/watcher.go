package session

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// EventWindow is how many recent events each poll fetches. The stream has no
// cursor, so the window must comfortably cover everything emitted between
// polls; dedup discards what was already seen.
const EventWindow = 200

// Watcher folds a session's polled state into a completion decision. It is a
// plain state machine so the detection policy is testable without timers:
// feed it sessions and event windows, ask it whether the work is done.
//
// Terminal conditions, in priority order:
//   - an execution_complete event (carrying a success flag)
//   - an error event
//   - the sandbox reaching stopped after processing was observed, which
//     guards against sessions whose completion event is dropped
//
// Dedup is in-memory per watcher and does not survive a restart; resumed
// loops simply re-observe the full window, which dedup makes harmless.
type Watcher struct {
	seen          map[string]bool
	output        strings.Builder
	sawProcessing bool

	done    bool
	failed  bool
	failMsg string

	// doneFallback marks done as coming from the stopped-sandbox guard
	// rather than a terminal event. A real terminal event in the same poll
	// window still decides the outcome.
	doneFallback bool
}

// NewWatcher creates a watcher with an empty seen-set.
func NewWatcher() *Watcher {
	return &Watcher{seen: make(map[string]bool)}
}

// ObserveSession folds a session snapshot into the watcher.
func (w *Watcher) ObserveSession(s *Session) {
	if s == nil || w.done {
		return
	}
	if s.IsProcessing || s.SandboxStatus == SandboxRunning {
		w.sawProcessing = true
	}
	if s.SandboxStatus == SandboxStopped && w.sawProcessing {
		// Completion signal may have been lost; treat the stopped sandbox
		// as a finish unless a terminal event still turns up.
		w.done = true
		w.doneFallback = true
	}
}

// ObserveEvents folds an event window into the watcher. Already-seen events
// are skipped by id; token payloads accumulate into the output buffer.
func (w *Watcher) ObserveEvents(events []Event) {
	for _, ev := range events {
		if ev.ID != "" {
			if w.seen[ev.ID] {
				continue
			}
			w.seen[ev.ID] = true
		}

		switch ev.Type {
		case EventToken:
			w.output.WriteString(ev.TokenContent())
		case EventExecutionComplete:
			if w.done && !w.doneFallback {
				continue
			}
			success, errMsg := ev.CompletionResult()
			w.done = true
			w.doneFallback = false
			if !success {
				w.failed = true
				w.failMsg = errMsg
				if w.failMsg == "" {
					w.failMsg = "execution reported failure"
				}
			}
		case EventError:
			if w.done && !w.doneFallback {
				continue
			}
			w.done = true
			w.doneFallback = false
			w.failed = true
			w.failMsg = ev.ErrorMessage()
			if w.failMsg == "" {
				w.failMsg = "session reported an error"
			}
		}
	}
}

// Done reports whether a terminal condition has been observed.
func (w *Watcher) Done() bool { return w.done }

// Failed reports whether the terminal condition was a failure.
func (w *Watcher) Failed() bool { return w.failed }

// FailureMessage returns the failure description, if any.
func (w *Watcher) FailureMessage() string { return w.failMsg }

// Output returns the accumulated token output.
func (w *Watcher) Output() string { return w.output.String() }

// Tail returns the last n characters of the accumulated output.
func (w *Watcher) Tail(n int) string {
	out := w.output.String()
	if len(out) <= n {
		return out
	}
	return out[len(out)-n:]
}

// Result is the outcome of watching a session to completion.
type Result struct {
	Output  string
	Failed  bool
	FailMsg string
}

// Sleeper pauses between polls. Injected so tests run without real timers.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Watch polls a session every interval until a terminal condition is
// observed. Transport errors on a poll are logged and retried on the next
// cycle; polling fails open and only context cancellation stops it.
func Watch(ctx context.Context, client Client, sessionID string, interval time.Duration, sleep Sleeper, logger *slog.Logger) (*Result, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := NewWatcher()
	for {
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}

		sess, err := client.GetSession(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("session poll failed, will retry", "session", sessionID, "error", err)
			continue
		}
		w.ObserveSession(sess)

		if sess.SandboxStatus.IsStartingUp() {
			continue
		}

		events, err := client.GetEvents(ctx, sessionID, EventWindow)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("event poll failed, will retry", "session", sessionID, "error", err)
			continue
		}
		w.ObserveEvents(events)

		if w.Done() {
			return &Result{Output: w.Output(), Failed: w.Failed(), FailMsg: w.FailureMessage()}, nil
		}
	}
}
