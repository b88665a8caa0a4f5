package batch

import (
	"errors"

	"github.com/goccy/go-json"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNoOwner    = errors.New("batch has no owner")
)

// Change is one client mutation in a batch. ID is the client-chosen
// idempotency key; CreatedAt is the client enqueue timestamp in epoch ms.
// LWW ordering uses the updated_at field inside Payload, not CreatedAt.
type Change struct {
	ID         string          `json:"id" binding:"required"`
	Table      string          `json:"table" binding:"required"`
	Op         string          `json:"op" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	CreatedAt  int64           `json:"created_at"`
	Status     string          `json:"status,omitempty"`
	RetryCount int             `json:"retry_count,omitempty"`
}

// Row is an applied entity row as returned to the client.
type Row map[string]any

// ChangeError records one isolated per-change failure.
type ChangeError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Result is the verdict for a whole batch. Applied lists every change that
// succeeded (including last-write-wins no-ops); Errors lists the isolated
// failures. The two partition the input.
type Result struct {
	Success   bool          `json:"success"`
	Applied   []string      `json:"applied"`
	Responses []Row         `json:"responses"`
	Errors    []ChangeError `json:"errors,omitempty"`
}

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)
