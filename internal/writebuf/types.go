package writebuf

import (
	"context"

	"github.com/goccy/go-json"
)

// Op is the mutation kind carried by a change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Status is the local lifecycle state of a buffered change. A change is
// owned exclusively by the buffer until the server acknowledges it.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusApplied Status = "applied"
	StatusError   Status = "error"
)

// Change is one buffered mutation. The json tags are the batch wire format;
// ID doubles as the server-side idempotency key.
type Change struct {
	ID         string          `db:"change_id" json:"id"`
	Table      string          `db:"tbl" json:"table"`
	Op         Op              `db:"op" json:"op"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"created_at"`
	Status     Status          `db:"status" json:"status"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"-"`
}

// ChangeError pairs a change id with the server's per-change failure.
type ChangeError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SubmitResult is the server's verdict on one submitted batch.
type SubmitResult struct {
	Applied []string
	Errors  []ChangeError
}

// Submitter sends one batch of changes to the server. Implemented by the
// sync SDK; a transport-level error means no verdict was received at all.
type Submitter interface {
	SubmitBatch(ctx context.Context, changes []*Change) (*SubmitResult, error)
}

// FlushReport summarizes one flush attempt.
type FlushReport struct {
	Submitted int
	Applied   int
	Failed    int
	// Aborted is set when a concurrent Clear invalidated the flush; its
	// results were discarded.
	Aborted bool
}
