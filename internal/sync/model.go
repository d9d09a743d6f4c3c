// Package sync orchestrates pull runs that mirror remote model records
// into the local store, one model at a time, with incremental domains and
// conflict screening.
package sync

import (
	"errors"
	"time"

	"github.com/tildaslashalef/odoosync/internal/ulid"
)

// ErrSyncInProgress is returned when a sync run is requested while another
// run is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the lifecycle phase of the sync engine.
type State string

const (
	// StateIdle means no run has happened yet.
	StateIdle State = "idle"
	// StateRunning means a run is active; new runs are rejected.
	StateRunning State = "running"
	// StateCompleted means the last run finished, possibly with
	// per-model errors.
	StateCompleted State = "completed"
	// StateFailed means the last run aborted or was cancelled.
	StateFailed State = "failed"
)

// TriggerType records what initiated a sync run.
type TriggerType string

const (
	// TriggerManual is a user-initiated run.
	TriggerManual TriggerType = "manual"
	// TriggerAuto is a run started automatically after queue replay.
	TriggerAuto TriggerType = "auto"
	// TriggerBackground is a scheduled background run.
	TriggerBackground TriggerType = "background"
)

// SyncError is one per-model failure captured during a run.
type SyncError struct {
	Model   string `json:"model"`
	Message string `json:"message"`
}

// SyncStatus is the transient, observable state of the engine. Snapshots
// handed to listeners are copies and safe to retain.
type SyncStatus struct {
	State         State       `json:"state"`
	StartedAt     time.Time   `json:"started_at,omitempty"`
	CompletedAt   time.Time   `json:"completed_at,omitempty"`
	CurrentModel  string      `json:"current_model,omitempty"`
	ModelsTotal   int         `json:"models_total"`
	ModelsDone    int         `json:"models_done"`
	Progress      int         `json:"progress"`       // 0..100 across the model loop
	RecordsSynced int         `json:"records_synced"` // records written locally
	TotalRecords  int         `json:"total_records"`  // records matching on the server
	Offline       bool        `json:"offline,omitempty"`
	Errors        []SyncError `json:"errors,omitempty"`
}

// SyncLog is the persisted record of one completed run.
type SyncLog struct {
	ID            string      `json:"id"`
	TriggerType   TriggerType `json:"trigger_type"`
	ModelsTotal   int         `json:"models_total"`
	ModelsFailed  int         `json:"models_failed"`
	RecordsSynced int         `json:"records_synced"`
	Success       bool        `json:"success"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   time.Time   `json:"completed_at"`
}

// NewSyncLog creates a log entry for a run that is starting now.
func NewSyncLog(trigger TriggerType) *SyncLog {
	now := time.Now().UTC()
	return &SyncLog{
		ID:          ulid.SyncLogID(),
		TriggerType: trigger,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful closes the log entry as a successful run.
func (l *SyncLog) MarkSuccessful(modelsTotal, recordsSynced int) {
	l.Success = true
	l.ModelsTotal = modelsTotal
	l.RecordsSynced = recordsSynced
	l.CompletedAt = time.Now().UTC()
}

// MarkFailed closes the log entry as a failed run.
func (l *SyncLog) MarkFailed(modelsTotal, modelsFailed int, message string) {
	l.Success = false
	l.ModelsTotal = modelsTotal
	l.ModelsFailed = modelsFailed
	l.ErrorMessage = message
	l.CompletedAt = time.Now().UTC()
}
