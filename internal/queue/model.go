// Package queue holds local mutations made while offline and replays
// them against the remote server in creation order.
package queue

import (
	"time"

	"github.com/tildaslashalef/odoosync/internal/ulid"
)

// Operation is the kind of local edit a mutation represents.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status tracks a mutation through the replay pipeline.
type Status string

const (
	// StatusPending means the mutation has not reached the server yet.
	StatusPending Status = "pending"
	// StatusSent means the server accepted the mutation; the row is kept
	// only until the surrounding replay pass completes.
	StatusSent Status = "sent"
	// StatusFailed is terminal; the retry budget is spent.
	StatusFailed Status = "failed"
)

// PendingMutation is one queued local edit.
type PendingMutation struct {
	ID         string
	Model      string
	RecordID   int64
	Operation  Operation
	Payload    map[string]any
	CreatedAt  time.Time
	RetryCount int
	Status     Status
}

// NewMutation builds a pending mutation with a fresh ID.
func NewMutation(model string, recordID int64, op Operation, payload map[string]any) *PendingMutation {
	return &PendingMutation{
		ID:        ulid.MutationID(),
		Model:     model,
		RecordID:  recordID,
		Operation: op,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
	}
}

// ReplayResult summarizes one DrainAndReplay pass.
type ReplayResult struct {
	Replayed int
	Failed   int
	Skipped  int
}
