package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

// Adapter is the slice of the remote surface discovery needs.
type Adapter interface {
	ListModels(ctx context.Context) ([]odoo.RawModelInfo, error)
	SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.QueryOptions) ([]odoo.Record, error)
}

// Registry persists discovered descriptors and the user's enable toggles.
type Registry interface {
	SaveDescriptors(ctx context.Context, descriptors []ModelDescriptor) error
	ListDescriptors(ctx context.Context) ([]ModelDescriptor, error)
}

// Config tunes the discovery cache and circuit breaker.
type Config struct {
	TTL           time.Duration
	BreakerMax    int
	BreakerWindow time.Duration
}

// Service discovers syncable models with caching and rate protection.
type Service struct {
	adapter Adapter
	repo    Registry
	cfg     Config
	logger  *loggy.Logger
	breaker *callBreaker
	now     func() time.Time

	mu       sync.Mutex
	cache    []ModelDescriptor
	cachedAt time.Time
}

// NewService creates a discovery service. The registry may be nil, in
// which case descriptors are not persisted.
func NewService(adapter Adapter, repo Registry, cfg Config, logger *loggy.Logger) *Service {
	return &Service{
		adapter: adapter,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		breaker: newCallBreaker(cfg.BreakerMax, cfg.BreakerWindow),
		now:     time.Now,
	}
}

// Discover returns the descriptor list for syncable remote models.
//
// The call budget is consumed on every invocation, including ones served
// from cache, so a caller polling Discover in a tight loop trips the
// breaker rather than queueing up network fetches.
func (s *Service) Discover(ctx context.Context) ([]ModelDescriptor, error) {
	s.breaker.record()

	s.mu.Lock()
	if s.cache != nil && s.now().Sub(s.cachedAt) < s.cfg.TTL {
		cached := s.cache
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	if s.breaker.tripped() {
		s.logger.Warn("discovery circuit breaker tripped, serving static fallback",
			"max_calls", s.cfg.BreakerMax, "window", s.cfg.BreakerWindow)
		return FallbackDescriptors(s.now()), nil
	}

	raw, err := s.adapter.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote models: %w", err)
	}

	candidates := filterCandidates(raw)
	descriptors := make([]ModelDescriptor, 0, len(candidates))
	now := s.now()
	toggles := s.enabledToggles(ctx)

	for _, info := range candidates {
		accessible, err := s.probeAccess(ctx, info.Model)
		if err != nil {
			// Fatal transport errors abort discovery entirely
			return nil, err
		}
		if !accessible {
			s.logger.Debug("excluding model without read access", "model", info.Model)
			continue
		}

		enabled := true
		if v, ok := toggles[info.Model]; ok {
			enabled = v
		}

		descriptors = append(descriptors, ModelDescriptor{
			Name:         info.Model,
			DisplayName:  info.Name,
			Description:  info.Info,
			Enabled:      enabled,
			SyncType:     SyncTypeTimeWindowed,
			HasAccess:    true,
			DiscoveredAt: now,
		})
	}

	s.mu.Lock()
	s.cache = descriptors
	s.cachedAt = now
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveDescriptors(ctx, descriptors); err != nil {
			s.logger.Warn("failed to persist model registry", "error", err)
		}
	}

	s.logger.Info("model discovery complete", "candidates", len(candidates), "accessible", len(descriptors))
	return descriptors, nil
}

// Reset drops the cache and re-arms the circuit breaker, forcing the next
// Discover call to re-probe the server.
func (s *Service) Reset() {
	s.mu.Lock()
	s.cache = nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
	s.breaker.reset()
}

// enabledToggles reads the persisted enable flags so a rediscovery keeps
// the user's choices. Best effort.
func (s *Service) enabledToggles(ctx context.Context) map[string]bool {
	if s.repo == nil {
		return nil
	}
	existing, err := s.repo.ListDescriptors(ctx)
	if err != nil {
		s.logger.Warn("failed to read model registry", "error", err)
		return nil
	}
	toggles := make(map[string]bool, len(existing))
	for _, d := range existing {
		toggles[d.Name] = d.Enabled
	}
	return toggles
}

// probeAccess issues a minimal one-row query to establish read access.
// AccessDenied excludes the model silently; any other failure assumes
// access so a flaky probe does not drop a usable model.
func (s *Service) probeAccess(ctx context.Context, model string) (bool, error) {
	_, err := s.adapter.SearchRead(ctx, model, nil, odoo.QueryOptions{
		Fields: []string{"id"},
		Limit:  1,
	})
	if err == nil {
		return true, nil
	}

	switch odoo.KindOf(err) {
	case odoo.KindAccessDenied:
		return false, nil
	case odoo.KindAuth, odoo.KindConnectivity, odoo.KindTimeout:
		return false, err
	default:
		s.logger.Debug("access probe failed, assuming access", "model", model, "error", err)
		return true, nil
	}
}

// filterCandidates applies the transient/system/unreliable denylists and
// the business allowlist to the raw registry.
func filterCandidates(raw []odoo.RawModelInfo) []odoo.RawModelInfo {
	var candidates []odoo.RawModelInfo
	for _, info := range raw {
		if info.Transient || info.IsAbstract {
			continue
		}
		if isSystemModel(info.Model) {
			continue
		}
		if unreliableModels[info.Model] {
			continue
		}
		if !isBusinessModel(info.Model) {
			continue
		}
		candidates = append(candidates, info)
	}
	return candidates
}
