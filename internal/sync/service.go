package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tildaslashalef/odoosync/internal/config"
	"github.com/tildaslashalef/odoosync/internal/conflict"
	"github.com/tildaslashalef/odoosync/internal/discovery"
	"github.com/tildaslashalef/odoosync/internal/fields"
	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
	"github.com/tildaslashalef/odoosync/internal/store"
)

// RemoteAdapter is the slice of the remote surface a pull run needs.
type RemoteAdapter interface {
	SearchCount(ctx context.Context, model string, domain odoo.Domain) (int, error)
	SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.QueryOptions) ([]odoo.Record, error)
}

// FieldResolver resolves the field list pulled for each model.
type FieldResolver interface {
	ResolveFields(ctx context.Context, model string) ([]string, error)
	Reset()
}

// Gateway is the slice of the local store a pull run needs.
type Gateway interface {
	UpsertRecords(ctx context.Context, model string, records []odoo.Record) error
	CountRecords(ctx context.Context, model string) (int, error)
	GetSyncMetadata(ctx context.Context, model string) (*store.Metadata, error)
	SetSyncMetadata(ctx context.Context, meta *store.Metadata) error
	HasCachedData(ctx context.Context) (bool, error)
}

// ConflictScreen checks incoming remote records against queued local edits.
type ConflictScreen interface {
	Resolve(ctx context.Context, model string, recordID int64, remote odoo.Record) (*conflict.Conflict, error)
}

// ModelSource supplies the syncable model set when the caller does not
// name models explicitly.
type ModelSource interface {
	Discover(ctx context.Context) ([]discovery.ModelDescriptor, error)
}

// stepResult is the outcome of one model's pull attempt.
type stepResult struct {
	records int
	matched int
	err     error
}

// Service runs sync pulls. At most one run is active at a time.
type Service struct {
	adapter   RemoteAdapter
	gateway   Gateway
	resolver  FieldResolver
	conflicts ConflictScreen
	models    ModelSource
	domains   *DomainBuilder
	repo      Repository
	cfg       config.SyncConfig
	logger    *loggy.Logger
	now       func() time.Time

	cancelled atomic.Bool

	mu     sync.Mutex
	status SyncStatus

	listenerMu   sync.Mutex
	listeners    map[int]func(SyncStatus)
	nextListener int
}

// NewService creates the sync orchestrator.
func NewService(
	adapter RemoteAdapter,
	gateway Gateway,
	resolver FieldResolver,
	conflicts ConflictScreen,
	models ModelSource,
	domains *DomainBuilder,
	repo Repository,
	cfg config.SyncConfig,
	logger *loggy.Logger,
) *Service {
	return &Service{
		adapter:   adapter,
		gateway:   gateway,
		resolver:  resolver,
		conflicts: conflicts,
		models:    models,
		domains:   domains,
		repo:      repo,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(SyncStatus)),
		status:    SyncStatus{State: StateIdle},
	}
}

// GetStatus returns a snapshot of the current sync status.
func (s *Service) GetStatus() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnStatusChange registers a listener invoked synchronously on every
// status transition. The returned function unsubscribes it.
func (s *Service) OnStatusChange(fn func(SyncStatus)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

// CancelSync requests cooperative cancellation of the active run. The
// in-flight model finishes and commits; remaining models are skipped.
func (s *Service) CancelSync() {
	s.cancelled.Store(true)
}

// StartSync runs a sync pass over the selected models, or over all
// discovered enabled models when none are named. It returns
// ErrSyncInProgress while another run is active. The run is synchronous;
// use OnStatusChange for progress.
func (s *Service) StartSync(ctx context.Context, selectedModels []string, forceFull bool) error {
	s.mu.Lock()
	if s.status.State == StateRunning {
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	s.cancelled.Store(false)
	s.status = SyncStatus{State: StateRunning, StartedAt: s.now()}
	s.mu.Unlock()
	s.notify()

	log := NewSyncLog(TriggerManual)
	err := s.run(ctx, selectedModels, forceFull, log)

	if s.repo != nil {
		if saveErr := s.repo.SaveLog(ctx, log); saveErr != nil {
			s.logger.Warn("failed to persist sync log", "error", saveErr)
		}
	}
	return err
}

// run executes the model loop and settles the final state.
func (s *Service) run(ctx context.Context, selectedModels []string, forceFull bool, log *SyncLog) error {
	models, err := s.resolveModels(ctx, selectedModels)
	if err != nil {
		return s.abort(ctx, log, 0, err)
	}

	s.update(func(st *SyncStatus) { st.ModelsTotal = len(models) })

	var errors []SyncError
	var records, matched int

	for i, model := range models {
		if s.cancelled.Load() || ctx.Err() != nil {
			errors = append(errors, SyncError{Model: model, Message: "sync cancelled by caller"})
			s.finish(StateFailed, records, errors, false)
			log.MarkFailed(len(models), len(models)-i, "sync cancelled by caller")
			log.RecordsSynced = records
			return nil
		}

		s.update(func(st *SyncStatus) { st.CurrentModel = model })

		res := s.syncModel(ctx, model, forceFull)
		records += res.records
		matched += res.matched

		if res.err != nil {
			switch odoo.KindOf(res.err) {
			case odoo.KindAccessDenied:
				// revoked access is not an error, the model just drops out
				s.logger.Debug("model access revoked, skipping", "model", model)
			case odoo.KindAuth, odoo.KindConnectivity, odoo.KindTimeout:
				return s.abort(ctx, log, records, res.err)
			default:
				errors = append(errors, SyncError{Model: model, Message: res.err.Error()})
				s.recordModelError(ctx, model, res.err)
			}
		}

		s.update(func(st *SyncStatus) {
			st.ModelsDone = i + 1
			st.Progress = (i + 1) * 100 / len(models)
			st.RecordsSynced = records
			st.TotalRecords = matched
			st.Errors = append([]SyncError(nil), errors...)
		})
	}

	s.finish(StateCompleted, records, errors, false)
	log.MarkSuccessful(len(models), records)
	if len(errors) > 0 {
		log.ModelsFailed = len(errors)
		log.ErrorMessage = fmt.Sprintf("%d of %d models failed", len(errors), len(models))
	}

	s.logger.Info("sync run finished",
		"models", len(models), "records", records, "failures", len(errors))
	return nil
}

// abort handles a fatal error. With cached data present the run degrades
// to offline mode and the caller gets no error; with an empty cache the
// failure surfaces.
func (s *Service) abort(ctx context.Context, log *SyncLog, records int, err error) error {
	cached, cacheErr := s.gateway.HasCachedData(ctx)
	if cacheErr != nil {
		s.logger.Warn("failed to check cached data", "error", cacheErr)
	}

	if cached {
		s.logger.Warn("server unreachable, continuing with cached data", "error", err)
		s.finish(StateCompleted, records, nil, true)
		log.MarkSuccessful(0, records)
		log.ErrorMessage = "offline: " + err.Error()
		return nil
	}

	s.finish(StateFailed, records, []SyncError{{Message: err.Error()}}, false)
	log.MarkFailed(0, 0, err.Error())
	log.RecordsSynced = records
	return err
}

// finish settles the terminal state for a run and notifies listeners.
func (s *Service) finish(state State, records int, errors []SyncError, offline bool) {
	s.update(func(st *SyncStatus) {
		st.State = state
		st.CompletedAt = s.now()
		st.CurrentModel = ""
		st.RecordsSynced = records
		st.Offline = offline
		st.Errors = append([]SyncError(nil), errors...)
	})
}

// resolveModels expands an empty selection into the discovered enabled set.
func (s *Service) resolveModels(ctx context.Context, selected []string) ([]string, error) {
	if len(selected) > 0 {
		return selected, nil
	}

	descriptors, err := s.models.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering models: %w", err)
	}

	models := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Enabled && d.HasAccess {
			models = append(models, d.Name)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no syncable models discovered")
	}
	return models, nil
}

// syncModel pulls one model. Schema and serialization failures get one
// retry with the static safe field set before counting as a model failure.
func (s *Service) syncModel(ctx context.Context, model string, forceFull bool) stepResult {
	fieldList, err := s.resolver.ResolveFields(ctx, model)
	if err != nil {
		return stepResult{err: fmt.Errorf("resolving fields for %s: %w", model, err)}
	}

	res := s.pullModel(ctx, model, forceFull, fieldList)
	if res.err == nil {
		return res
	}

	switch odoo.KindOf(res.err) {
	case odoo.KindSchema, odoo.KindSerialization:
		s.logger.Warn("model pull failed on field set, retrying with fallback fields",
			"model", model, "error", res.err)
		s.resolver.Reset()
		return s.pullModel(ctx, model, forceFull, fields.FallbackFields(model))
	}
	return res
}

// pullModel is one fetch-screen-store pass for a model.
func (s *Service) pullModel(ctx context.Context, model string, forceFull bool, fieldList []string) stepResult {
	domain, err := s.domains.BuildDomain(ctx, model, forceFull)
	if err != nil {
		return stepResult{err: err}
	}

	total, err := s.adapter.SearchCount(ctx, model, domain)
	if err != nil {
		return stepResult{err: err}
	}
	s.logger.Debug("model pull starting", "model", model, "matching", total)

	records, err := s.adapter.SearchRead(ctx, model, domain, odoo.QueryOptions{
		Fields:  fieldList,
		Limit:   s.cfg.RecordLimit,
		Order:   "write_date desc",
		Timeout: s.cfg.ModelTimeout,
	})
	if err != nil {
		return stepResult{err: err}
	}

	kept := make([]odoo.Record, 0, len(records))
	var maxWrite time.Time
	var blockedFloor time.Time
	for _, rec := range records {
		c, err := s.conflicts.Resolve(ctx, model, rec.ID(), rec)
		if err != nil {
			return stepResult{err: err}
		}
		if c != nil && c.Blocked() {
			s.logger.Debug("remote write blocked by conflict",
				"model", model, "record_id", rec.ID(), "resolution", c.Resolution)
			if wd := rec.WriteDate(); blockedFloor.IsZero() || wd.Before(blockedFloor) {
				blockedFloor = wd
			}
			continue
		}
		if wd := rec.WriteDate(); wd.After(maxWrite) {
			maxWrite = wd
		}
		kept = append(kept, rec)
	}

	// A blocked record must stay inside the next incremental window so it
	// is refetched and applied once its conflict is resolved.
	if !blockedFloor.IsZero() && blockedFloor.Before(maxWrite) {
		maxWrite = blockedFloor
	}

	if err := s.gateway.UpsertRecords(ctx, model, kept); err != nil {
		return stepResult{err: fmt.Errorf("storing %s records: %w", model, err)}
	}

	if err := s.updateMetadata(ctx, model, maxWrite); err != nil {
		return stepResult{err: err}
	}

	return stepResult{records: len(kept), matched: total}
}

// updateMetadata advances the model's watermark. The watermark never moves
// backwards, re-runs over already-seen data are no-ops.
func (s *Service) updateMetadata(ctx context.Context, model string, maxWrite time.Time) error {
	meta, err := s.gateway.GetSyncMetadata(ctx, model)
	if err != nil {
		return fmt.Errorf("reading sync metadata for %s: %w", model, err)
	}
	if meta == nil {
		meta = &store.Metadata{Model: model}
	}

	if !maxWrite.IsZero() {
		if meta.LastSyncWriteDate == nil || maxWrite.After(*meta.LastSyncWriteDate) {
			wd := maxWrite
			meta.LastSyncWriteDate = &wd
		}
	}

	total, err := s.gateway.CountRecords(ctx, model)
	if err != nil {
		return fmt.Errorf("counting %s records: %w", model, err)
	}

	meta.LastSyncTimestamp = s.now()
	meta.TotalRecords = total
	meta.LastError = ""

	if err := s.gateway.SetSyncMetadata(ctx, meta); err != nil {
		return fmt.Errorf("writing sync metadata for %s: %w", model, err)
	}
	return nil
}

// recordModelError stores the failure on the model's metadata row without
// touching the watermark. Best effort.
func (s *Service) recordModelError(ctx context.Context, model string, cause error) {
	meta, err := s.gateway.GetSyncMetadata(ctx, model)
	if err != nil {
		s.logger.Warn("failed to read metadata while recording error", "model", model, "error", err)
		return
	}
	if meta == nil {
		meta = &store.Metadata{Model: model}
	}
	meta.LastError = cause.Error()
	if err := s.gateway.SetSyncMetadata(ctx, meta); err != nil {
		s.logger.Warn("failed to record model error", "model", model, "error", err)
	}
}

// update mutates the status under lock and notifies listeners.
func (s *Service) update(mutate func(*SyncStatus)) {
	s.mu.Lock()
	mutate(&s.status)
	s.mu.Unlock()
	s.notify()
}

func (s *Service) snapshotLocked() SyncStatus {
	snapshot := s.status
	snapshot.Errors = append([]SyncError(nil), s.status.Errors...)
	return snapshot
}

func (s *Service) notify() {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.listenerMu.Lock()
	fns := make([]func(SyncStatus), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
