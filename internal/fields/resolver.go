package fields

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

// MetadataSource is the slice of the remote surface the resolver needs.
type MetadataSource interface {
	FieldsGet(ctx context.Context, model string) (map[string]odoo.FieldInfo, error)
}

// metaAttributes are framework bookkeeping attributes reported by
// fields_get that carry no business data.
var metaAttributes = map[string]bool{
	"__last_update":  true,
	"display_name":   true,
	"access_token":   true,
	"access_url":     true,
	"access_warning": true,
}

// fieldDenylist lists per-model fields that are known to be oversized or
// to serialize unreliably.
var fieldDenylist = map[string]map[string]bool{
	"res.partner": {
		"image_1920": true,
		"image_1024": true,
		"image_512":  true,
		"image_256":  true,
		"image_128":  true,
	},
	"res.users": {
		"password":     true,
		"new_password": true,
	},
	"discuss.channel": {
		"avatar_128": true,
	},
}

// fieldAllowlist restricts a model to an explicit field set regardless of
// what the server reports. Attachments in particular carry their payload
// inline, so only identifying metadata is pulled.
var fieldAllowlist = map[string][]string{
	"ir.attachment": {
		"id", "name", "mimetype", "file_size", "res_model", "res_id",
		"create_date", "write_date",
	},
}

// fallbackFields is served when field metadata cannot be fetched at all.
// Every remote model carries these.
var fallbackFields = map[string][]string{
	"res.partner":      {"id", "name", "email", "phone", "is_company", "create_date", "write_date"},
	"res.users":        {"id", "name", "login", "create_date", "write_date"},
	"crm.lead":         {"id", "name", "partner_id", "stage_id", "create_date", "write_date"},
	"sale.order":       {"id", "name", "partner_id", "state", "amount_total", "create_date", "write_date"},
	"product.template": {"id", "name", "list_price", "create_date", "write_date"},
	"helpdesk.ticket":  {"id", "name", "partner_id", "stage_id", "create_date", "write_date"},
}

// genericFallback covers models without a curated fallback entry.
var genericFallback = []string{"id", "display_name", "create_date", "write_date"}

// Resolver computes and caches the field list pulled for each model.
type Resolver struct {
	source MetadataSource
	logger *loggy.Logger

	mu    sync.Mutex
	cache map[string][]string
}

// NewResolver creates a field resolver backed by the given metadata source.
func NewResolver(source MetadataSource, logger *loggy.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: logger,
		cache:  make(map[string][]string),
	}
}

// ResolveFields returns the sorted list of field names to request for a
// model. The result is cached until Reset is called. If metadata cannot be
// fetched the static fallback list is returned and the failure is not
// propagated; the fallback is never empty.
func (r *Resolver) ResolveFields(ctx context.Context, model string) ([]string, error) {
	r.mu.Lock()
	if cached, ok := r.cache[model]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	if allowed, ok := fieldAllowlist[model]; ok {
		resolved := append([]string(nil), allowed...)
		r.store(model, resolved)
		return resolved, nil
	}

	raw, err := r.source.FieldsGet(ctx, model)
	if err != nil {
		r.logger.Warn("field metadata fetch failed, using static fallback",
			"model", model, "error", err)
		return FallbackFields(model), nil
	}

	resolved := selectFields(model, capabilitiesFrom(raw))
	if len(resolved) == 0 {
		resolved = FallbackFields(model)
	}
	r.store(model, resolved)
	return resolved, nil
}

// Reset drops all cached field lists. The next ResolveFields call for each
// model re-fetches metadata.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string][]string)
}

func (r *Resolver) store(model string, resolved []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[model] = resolved
}

// FallbackFields returns the static field list for a model. Never empty.
func FallbackFields(model string) []string {
	if fallback, ok := fallbackFields[model]; ok {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), genericFallback...)
}

// selectFields filters capabilities down to the syncable field names.
func selectFields(model string, caps []Capability) []string {
	denied := fieldDenylist[model]
	var names []string
	for _, c := range caps {
		if !includeCapability(c) {
			continue
		}
		if denied[c.Name] {
			continue
		}
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// includeCapability decides a single field by its typed shape.
func includeCapability(c Capability) bool {
	if metaAttributes[c.Name] {
		return false
	}
	if strings.HasPrefix(c.Name, "message_") || strings.HasPrefix(c.Name, "activity_") {
		// chatter plumbing, never business data
		return false
	}
	switch c.Kind {
	case KindBinary:
		return false
	case KindOne2Many:
		// inverse relations are reconstructed from the other side
		return false
	case KindUnknown:
		return false
	}
	if !c.Stored {
		return false
	}
	return true
}
