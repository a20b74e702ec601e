// Package idempotency gives event consumers exactly-once handling on top of
// an at-least-once stream. Each message is recorded in an inbox under a
// deterministic key before its handler runs.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Status is the processing state of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

var (
	// ErrDuplicateMessage means another consumer claimed the key first
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress means the key is being handled and is not stale
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed means the key failed terminally before
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// Terminal marks a handler error as permanent, so the entry becomes FAILED
// instead of RECOVERABLE
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err}
}

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// IsTerminal reports whether err was marked with Terminal
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Entry is an inbox record
type Entry struct {
	Key       string
	Handler   string
	Status    Status
	Payload   json.RawMessage
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Config tunes an inbox
type Config struct {
	// TTL is how long entries are kept
	TTL time.Duration
	// CleanupInterval is how often expired entries are deleted
	CleanupInterval time.Duration
	// RecoveryTimeout is how long a STARTED entry may sit before another
	// consumer may take it over
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the inbox defaults
func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Result describes one Process call
type Result struct {
	// Duplicate is set when the handler did not run because the key had
	// already finished
	Duplicate bool
	Recovered bool
	Output    json.RawMessage
}

// HandlerFunc is an idempotent handler
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Processor runs fn at most once to completion per key
type Processor interface {
	Process(ctx context.Context, key, handler string, payload json.RawMessage, fn HandlerFunc) (*Result, error)
}

// GenerateKey hashes the parts into a stable key
func GenerateKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// admission is the decision taken from an existing entry
type admission int

const (
	admitNew admission = iota
	admitRecover
	admitStale
)

// admit decides whether a handler may run for an existing entry. A nil
// entry is new work.
func admit(entry *Entry, recoveryTimeout time.Duration, now time.Time) (admission, *Result, error) {
	if entry == nil {
		return admitNew, nil, nil
	}
	switch entry.Status {
	case StatusFinished:
		return 0, &Result{Duplicate: true, Output: entry.Result}, nil
	case StatusFailed:
		return 0, nil, ErrPreviouslyFailed
	case StatusStarted:
		if now.Sub(entry.UpdatedAt) > recoveryTimeout {
			return admitStale, nil, nil
		}
		return 0, nil, ErrMessageInProgress
	default:
		return admitRecover, nil, nil
	}
}

func failureStatus(err error) Status {
	if IsTerminal(err) {
		return StatusFailed
	}
	return StatusRecoverable
}

func errorResult(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
