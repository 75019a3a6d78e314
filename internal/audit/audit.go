// Package audit records resolver state transitions to an append-only trail so
// any request can be replayed from its correlation id.
package audit

import (
	"context"
	"time"
)

// Entry is one recorded transition. InputSignature fingerprints the request
// input so replays can detect drift without storing raw parameter values.
type Entry struct {
	CorrelationID  string
	TaskID         string
	State          string
	Detail         string
	InputSignature string
	At             time.Time
}

// Trail persists and retrieves transition entries. Entries are append-only;
// there is no update or delete surface.
type Trail interface {
	Record(ctx context.Context, entry Entry) error
	ListByTask(ctx context.Context, taskID string) ([]Entry, error)
}

// Nop discards every entry. Used when no audit store is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) ListByTask(context.Context, string) ([]Entry, error) { return nil, nil }
