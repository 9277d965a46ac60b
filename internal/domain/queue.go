package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the lifecycle state of a persisted queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusLeased    Status = "leased"
	StatusCompleted Status = "completed"
	StatusDiscarded Status = "discarded"
)

// Queue names used for wake-up signalling and metrics labels
const (
	QueueMempool    = "mempool"
	QueueProverJobs = "prover_jobs"
)

var (
	// ErrNotFound is returned when a referenced entry is absent or not in the expected state.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConnectivity wraps storage failures: unreachable store, aborted transaction.
	ErrConnectivity = errors.New("storage unavailable")
	// ErrInvariantViolation signals a programming error in the caller or the isolation strategy.
	ErrInvariantViolation = errors.New("invariant violation")
)

// IsValid checks if the status is one of the known states
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusLeased, StatusCompleted, StatusDiscarded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave this status
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDiscarded
}

// ParseStatus converts user input into a Status
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, value)
	}
	return status, nil
}

// ParseStatuses parses a comma separated status list. Empty input yields nil (all statuses).
func ParseStatuses(value string) ([]Status, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	statuses := make([]Status, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Range is a half-open numeric interval [Low, High) over block or batch numbers.
type Range struct {
	Low  uint64 `json:"low"`
	High uint64 `json:"high"`
}

// Contains reports whether n falls inside the range
func (r Range) Contains(n uint64) bool {
	return n >= r.Low && n < r.High
}

// QueryFilter is the read-only filtering contract shared by both queues.
// Empty Statuses means all statuses; Limit <= 0 means no cap.
type QueryFilter struct {
	Statuses []Status `json:"statuses,omitempty"`
	Range    *Range   `json:"range,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	OrderBy  string   `json:"order_by,omitempty"`
	Desc     bool     `json:"desc,omitempty"`
}

// Validate checks the filter for malformed values
func (f QueryFilter) Validate() error {
	for _, status := range f.Statuses {
		if !status.IsValid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
		}
	}
	if f.Range != nil && f.Range.High < f.Range.Low {
		return fmt.Errorf("%w: range high %d below low %d", ErrInvalidArgument, f.Range.High, f.Range.Low)
	}
	if f.Range != nil && f.Range.Low > math.MaxInt64 {
		return fmt.Errorf("%w: range low %d out of range", ErrInvalidArgument, f.Range.Low)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	}
	return nil
}

// Notifier wakes consumers when new work is inserted. Signals are hints:
// consumers must still lease through the store.
type Notifier interface {
	Notify(ctx context.Context, queue string) error
	Wait(ctx context.Context, queue string, timeout time.Duration) (bool, error)
}

// Store is the storage façade. It hands out narrow repositories bound either
// to a plain connection or to a transaction scope opened with Begin.
type Store interface {
	Mempool() MempoolRepository
	ProverJobs() ProverJobRepository
	Begin(ctx context.Context) (StoreTx, error)
	Ping(ctx context.Context) error
}

// StoreTx is a transaction scope. Rollback after Commit is a no-op, so
// callers defer Rollback right after Begin.
type StoreTx interface {
	Mempool() MempoolRepository
	ProverJobs() ProverJobRepository
	Commit() error
	Rollback() error
}

// QueueStats holds per-status entry counts for one queue
type QueueStats struct {
	Queue  string           `json:"queue"`
	Counts map[Status]int64 `json:"counts"`
}
