package queue

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

// Adapter is the slice of the remote surface replay needs.
type Adapter interface {
	ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error
}

// Service manages the offline mutation queue.
type Service struct {
	adapter    Adapter
	repo       Repository
	maxRetries int
	logger     *loggy.Logger
}

// NewService creates a queue service. maxRetries bounds how many replay
// passes may fail before a mutation is parked as terminally failed.
func NewService(adapter Adapter, repo Repository, maxRetries int, logger *loggy.Logger) *Service {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Service{
		adapter:    adapter,
		repo:       repo,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Enqueue stores a local edit for later replay.
func (s *Service) Enqueue(ctx context.Context, m *PendingMutation) error {
	if m.Model == "" {
		return fmt.Errorf("mutation model is required")
	}
	if m.Operation != OpCreate && m.RecordID == 0 {
		return fmt.Errorf("mutation record id is required for %s", m.Operation)
	}
	if err := s.repo.Save(ctx, m); err != nil {
		return err
	}
	s.logger.Debug("mutation queued", "id", m.ID, "model", m.Model, "operation", m.Operation)
	return nil
}

// Pending returns the replayable mutations in order.
func (s *Service) Pending(ctx context.Context) ([]*PendingMutation, error) {
	return s.repo.ListPending(ctx)
}

// PendingForRecord returns the queued mutations for one record, oldest first.
func (s *Service) PendingForRecord(ctx context.Context, model string, recordID int64) ([]*PendingMutation, error) {
	return s.repo.ListForRecord(ctx, model, recordID)
}

// DrainAndReplay pushes queued mutations to the server in creation order.
// Once a mutation for a model fails, the rest of that model's queue is
// skipped for this pass so ordering is preserved. Fatal transport errors
// abort the whole pass.
func (s *Service) DrainAndReplay(ctx context.Context) (ReplayResult, error) {
	var result ReplayResult

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("listing pending mutations: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	stalled := make(map[string]bool)
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if stalled[m.Model] {
			result.Skipped++
			continue
		}

		if err := s.replayOne(ctx, m); err != nil {
			if odoo.IsFatal(err) {
				return result, fmt.Errorf("replaying mutation %s: %w", m.ID, err)
			}

			stalled[m.Model] = true
			retries := m.RetryCount + 1
			terminal := retries >= s.maxRetries
			if markErr := s.repo.MarkFailed(ctx, m.ID, retries, terminal); markErr != nil {
				return result, fmt.Errorf("recording replay failure for %s: %w", m.ID, markErr)
			}
			if terminal {
				result.Failed++
				s.logger.Error("mutation failed terminally",
					"id", m.ID, "model", m.Model, "retries", retries, "error", err)
			} else {
				result.Skipped++
				s.logger.Warn("mutation replay failed, will retry",
					"id", m.ID, "model", m.Model, "retries", retries, "error", err)
			}
			continue
		}

		if err := s.repo.Delete(ctx, m.ID); err != nil {
			return result, fmt.Errorf("removing replayed mutation %s: %w", m.ID, err)
		}
		result.Replayed++
	}

	s.logger.Info("queue replay complete",
		"replayed", result.Replayed, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// replayOne maps a queued mutation onto the corresponding remote call.
func (s *Service) replayOne(ctx context.Context, m *PendingMutation) error {
	switch m.Operation {
	case OpCreate:
		var createdID int64
		return s.adapter.ExecuteKw(ctx, m.Model, "create", []any{m.Payload}, nil, &createdID)
	case OpUpdate:
		var ok bool
		return s.adapter.ExecuteKw(ctx, m.Model, "write", []any{[]int64{m.RecordID}, m.Payload}, nil, &ok)
	case OpDelete:
		var ok bool
		return s.adapter.ExecuteKw(ctx, m.Model, "unlink", []any{[]int64{m.RecordID}}, nil, &ok)
	default:
		return fmt.Errorf("unknown mutation operation %q", m.Operation)
	}
}
