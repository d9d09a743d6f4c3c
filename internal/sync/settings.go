package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tildaslashalef/odoosync/internal/config"
	"github.com/tildaslashalef/odoosync/internal/conflict"
	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Settings keys persisted in the settings table.
const (
	settingWindow        = "sync.window"
	settingPolicy        = "sync.policy"
	settingAuto          = "sync.auto"
	settingBackground    = "sync.background"
	settingWindowPrefix  = "sync.window."
	settingSyncAllPrefix = "sync.all."
)

// SyncSettings are the persisted knobs governing pull runs. Window zero
// means "all": no time restriction at all.
type SyncSettings struct {
	Window         time.Duration
	ModelWindows   map[string]time.Duration
	SyncAll        map[string]bool
	Policy         conflict.Policy
	AutoSync       bool
	BackgroundSync bool
}

// WindowFor returns the effective window for a model; the per-model
// override beats the global value.
func (s *SyncSettings) WindowFor(model string) time.Duration {
	if w, ok := s.ModelWindows[model]; ok {
		return w
	}
	return s.Window
}

// SyncAllFor reports whether a model is configured to pull everything on a
// full sync.
func (s *SyncSettings) SyncAllFor(model string) bool {
	return s.SyncAll[model]
}

// SyncSettingsUpdate is a partial update; nil fields keep their current value.
type SyncSettingsUpdate struct {
	Window         *time.Duration
	ModelWindows   map[string]time.Duration
	SyncAll        map[string]bool
	Policy         *conflict.Policy
	AutoSync       *bool
	BackgroundSync *bool
}

// SettingsStore round-trips SyncSettings through the settings table so
// they survive restarts.
type SettingsStore struct {
	repo     config.SettingsRepository
	defaults config.SyncConfig
	logger   *loggy.Logger
}

// NewSettingsStore creates a settings store seeded with config defaults.
func NewSettingsStore(repo config.SettingsRepository, defaults config.SyncConfig, logger *loggy.Logger) *SettingsStore {
	return &SettingsStore{repo: repo, defaults: defaults, logger: logger}
}

// Load reads the persisted settings, falling back to config defaults for
// anything unset.
func (s *SettingsStore) Load(ctx context.Context) (*SyncSettings, error) {
	settings := &SyncSettings{
		Window:         s.defaults.TimeWindow,
		ModelWindows:   make(map[string]time.Duration),
		SyncAll:        make(map[string]bool),
		Policy:         conflict.Policy(s.defaults.ConflictPolicy),
		AutoSync:       s.defaults.AutoSync,
		BackgroundSync: s.defaults.BackgroundSync,
	}

	stored, err := s.repo.GetSettings(ctx, "sync.")
	if err != nil {
		return nil, fmt.Errorf("loading sync settings: %w", err)
	}

	for key, value := range stored {
		switch {
		case key == settingWindow:
			if d, err := time.ParseDuration(value); err == nil {
				settings.Window = d
			}
		case key == settingPolicy:
			settings.Policy = conflict.Policy(value)
		case key == settingAuto:
			settings.AutoSync = value == "true"
		case key == settingBackground:
			settings.BackgroundSync = value == "true"
		case strings.HasPrefix(key, settingWindowPrefix):
			model := strings.TrimPrefix(key, settingWindowPrefix)
			if d, err := time.ParseDuration(value); err == nil {
				settings.ModelWindows[model] = d
			}
		case strings.HasPrefix(key, settingSyncAllPrefix):
			model := strings.TrimPrefix(key, settingSyncAllPrefix)
			settings.SyncAll[model] = value == "true"
		}
	}

	return settings, nil
}

// Update merges a partial update into the persisted settings and returns
// the resulting full settings.
func (s *SettingsStore) Update(ctx context.Context, update SyncSettingsUpdate) (*SyncSettings, error) {
	if update.Window != nil {
		if err := s.repo.SetSetting(ctx, settingWindow, update.Window.String()); err != nil {
			return nil, fmt.Errorf("saving sync window: %w", err)
		}
	}
	if update.Policy != nil {
		if *update.Policy != conflict.LastWriteWins && *update.Policy != conflict.AskUser {
			return nil, fmt.Errorf("unknown conflict policy %q", *update.Policy)
		}
		if err := s.repo.SetSetting(ctx, settingPolicy, string(*update.Policy)); err != nil {
			return nil, fmt.Errorf("saving conflict policy: %w", err)
		}
	}
	if update.AutoSync != nil {
		if err := s.repo.SetSetting(ctx, settingAuto, strconv.FormatBool(*update.AutoSync)); err != nil {
			return nil, fmt.Errorf("saving auto sync flag: %w", err)
		}
	}
	if update.BackgroundSync != nil {
		if err := s.repo.SetSetting(ctx, settingBackground, strconv.FormatBool(*update.BackgroundSync)); err != nil {
			return nil, fmt.Errorf("saving background sync flag: %w", err)
		}
	}
	for model, window := range update.ModelWindows {
		if err := s.repo.SetSetting(ctx, settingWindowPrefix+model, window.String()); err != nil {
			return nil, fmt.Errorf("saving window for %s: %w", model, err)
		}
	}
	for model, all := range update.SyncAll {
		if err := s.repo.SetSetting(ctx, settingSyncAllPrefix+model, strconv.FormatBool(all)); err != nil {
			return nil, fmt.Errorf("saving sync-all flag for %s: %w", model, err)
		}
	}

	return s.Load(ctx)
}
