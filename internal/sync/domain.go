package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tildaslashalef/odoosync/internal/odoo"
	"github.com/tildaslashalef/odoosync/internal/store"
)

// MetadataSource exposes the persisted per-model sync watermark.
type MetadataSource interface {
	GetSyncMetadata(ctx context.Context, model string) (*store.Metadata, error)
}

// DomainBuilder constructs the search domain for one model's pull.
type DomainBuilder struct {
	metadata MetadataSource
	settings *SyncSettings
	now      func() time.Time
}

// NewDomainBuilder creates a domain builder over the given watermark source
// and settings.
func NewDomainBuilder(metadata MetadataSource, settings *SyncSettings) *DomainBuilder {
	return &DomainBuilder{
		metadata: metadata,
		settings: settings,
		now:      time.Now,
	}
}

// BuildDomain decides what slice of a model to pull. A nil domain means
// unrestricted.
//
// A zero window means "all" and is always unrestricted, even when a
// watermark exists. Otherwise incremental runs filter from the stored
// watermark with an inclusive ">=", so a re-run may refetch the boundary
// record but can never skip past it. Without a watermark (or with
// forceFull) sync-all models pull everything and the rest pull the
// configured window back from now.
func (b *DomainBuilder) BuildDomain(ctx context.Context, model string, forceFull bool) (odoo.Domain, error) {
	window := b.settings.WindowFor(model)
	if window == 0 {
		return nil, nil
	}

	if !forceFull {
		meta, err := b.metadata.GetSyncMetadata(ctx, model)
		if err != nil {
			return nil, fmt.Errorf("reading sync metadata for %s: %w", model, err)
		}
		if meta != nil && meta.LastSyncWriteDate != nil {
			return odoo.ChangedSince(*meta.LastSyncWriteDate), nil
		}
	}

	if b.settings.SyncAllFor(model) {
		return nil, nil
	}

	return odoo.ChangedSince(b.now().Add(-window)), nil
}
