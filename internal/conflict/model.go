// Package conflict detects and resolves collisions between queued local
// edits and freshly pulled remote records.
package conflict

import "time"

// Resolution is the outcome of a detected conflict.
type Resolution string

const (
	// KeepRemote lets the remote version overwrite the local record.
	KeepRemote Resolution = "keep_remote"
	// KeepLocal blocks the remote write; the queued local edit wins.
	KeepLocal Resolution = "keep_local"
	// PendingUser parks the conflict until the user decides.
	PendingUser Resolution = "pending_user"
)

// Policy selects how detected conflicts are resolved.
type Policy string

const (
	// LastWriteWins resolves by comparing the local edit time against the
	// remote write_date.
	LastWriteWins Policy = "last_write_wins"
	// AskUser records the conflict and blocks the remote write until the
	// user picks a side.
	AskUser Policy = "ask_user"
)

// Conflict is one detected field-level collision.
type Conflict struct {
	ID          string
	Model       string
	RecordID    int64
	Field       string
	LocalValue  string
	RemoteValue string
	DetectedAt  time.Time
	Resolution  Resolution
}

// Blocked reports whether this conflict prevents the remote record from
// being written locally.
func (c *Conflict) Blocked() bool {
	return c.Resolution == KeepLocal || c.Resolution == PendingUser
}

// LocalMutation is the slice of a queued mutation the resolver needs.
type LocalMutation struct {
	Payload   map[string]any
	CreatedAt time.Time
}
