package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

type fakeAdapter struct {
	models     []odoo.RawModelInfo
	listErr    error
	listCalls  int
	probeErrs  map[string]error
	probeCalls []string
}

func (f *fakeAdapter) ListModels(ctx context.Context) ([]odoo.RawModelInfo, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.models, nil
}

func (f *fakeAdapter) SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.QueryOptions) ([]odoo.Record, error) {
	f.probeCalls = append(f.probeCalls, model)
	if err, ok := f.probeErrs[model]; ok {
		return nil, err
	}
	return []odoo.Record{{"id": float64(1)}}, nil
}

func newTestService(adapter *fakeAdapter, cfg Config) *Service {
	return NewService(adapter, nil, cfg, loggy.NewNoopLogger())
}

// fakeRegistry mimics the SQL upsert, which never touches the enabled
// column for rows that already exist.
type fakeRegistry struct {
	descriptors map[string]ModelDescriptor
}

func (f *fakeRegistry) SaveDescriptors(ctx context.Context, descriptors []ModelDescriptor) error {
	if f.descriptors == nil {
		f.descriptors = make(map[string]ModelDescriptor)
	}
	for _, d := range descriptors {
		if prev, ok := f.descriptors[d.Name]; ok {
			d.Enabled = prev.Enabled
		}
		f.descriptors[d.Name] = d
	}
	return nil
}

func (f *fakeRegistry) ListDescriptors(ctx context.Context) ([]ModelDescriptor, error) {
	var out []ModelDescriptor
	for _, d := range f.descriptors {
		out = append(out, d)
	}
	return out, nil
}

func TestFilterCandidates(t *testing.T) {
	raw := []odoo.RawModelInfo{
		{Model: "res.partner", Name: "Contact"},
		{Model: "crm.lead", Name: "Lead"},
		{Model: "ir.ui.view", Name: "View"},
		{Model: "ir.attachment", Name: "Attachment"},
		{Model: "base.module.update", Name: "Module Update"},
		{Model: "sale.order.cancel", Name: "Cancel Wizard", Transient: true},
		{Model: "mail.template", Name: "Email Template"},
		{Model: "sale.report", Name: "Sales Analysis"},
		{Model: "account.move", Name: "Journal Entry"},
		{Model: "some.custom.model", Name: "Custom"},
		{Model: "hr.employee", Name: "Employee", IsAbstract: true},
	}

	got := filterCandidates(raw)

	names := make([]string, 0, len(got))
	for _, info := range got {
		names = append(names, info.Model)
	}
	assert.Equal(t, []string{"res.partner", "crm.lead", "ir.attachment", "account.move"}, names)
}

func TestDiscoverBuildsDescriptors(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{
			{Model: "res.partner", Name: "Contact", Info: "Business partners"},
			{Model: "crm.lead", Name: "Lead"},
		},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute})

	descriptors, err := svc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "res.partner", descriptors[0].Name)
	assert.Equal(t, "Contact", descriptors[0].DisplayName)
	assert.Equal(t, "Business partners", descriptors[0].Description)
	assert.True(t, descriptors[0].Enabled)
	assert.True(t, descriptors[0].HasAccess)
	assert.Equal(t, SyncTypeTimeWindowed, descriptors[0].SyncType)
	assert.Equal(t, []string{"res.partner", "crm.lead"}, adapter.probeCalls)
}

func TestDiscoverServesCacheWithinTTL(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute})

	first, err := svc.Discover(context.Background())
	require.NoError(t, err)
	second, err := svc.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, adapter.listCalls, "second call must be served from cache")
}

func TestDiscoverBreakerTripsAfterMaxCalls(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
	}
	// TTL 0 disables the cache so every call counts against the breaker
	// and would otherwise reach the network.
	svc := newTestService(adapter, Config{TTL: 0, BreakerMax: 3, BreakerWindow: time.Minute})

	for i := 0; i < 3; i++ {
		descriptors, err := svc.Discover(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Contact", descriptors[0].DisplayName)
	}
	assert.Equal(t, 3, adapter.listCalls)

	// Fourth call inside the window trips the breaker and serves the
	// static fallback without touching the adapter.
	descriptors, err := svc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.listCalls)
	assert.Len(t, descriptors, len(fallbackModels))
	assert.Equal(t, "res.partner", descriptors[0].Name)
}

func TestDiscoverBreakerWindowExpires(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
	}
	svc := newTestService(adapter, Config{TTL: 0, BreakerMax: 2, BreakerWindow: time.Minute})

	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	svc.breaker.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, err := svc.Discover(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, adapter.listCalls, "third call should have hit the breaker")

	// Once the window rolls past, the budget is restored.
	current = current.Add(2 * time.Minute)
	_, err := svc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.listCalls)
}

func TestDiscoverExcludesAccessDeniedModels(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{
			{Model: "res.partner", Name: "Contact"},
			{Model: "account.move", Name: "Journal Entry"},
		},
		probeErrs: map[string]error{
			"account.move": &odoo.RPCError{Kind: odoo.KindAccessDenied, Model: "account.move", Message: "not allowed"},
		},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute})

	descriptors, err := svc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "res.partner", descriptors[0].Name)
}

func TestDiscoverAssumesAccessOnFlakyProbe(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
		probeErrs: map[string]error{
			"res.partner": &odoo.RPCError{Kind: odoo.KindServer, Model: "res.partner", Message: "internal error"},
		},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute})

	descriptors, err := svc.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.True(t, descriptors[0].HasAccess)
}

func TestDiscoverAbortsOnFatalProbe(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
		probeErrs: map[string]error{
			"res.partner": &odoo.RPCError{Kind: odoo.KindConnectivity, Message: "connection refused"},
		},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute})

	_, err := svc.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, odoo.IsFatal(err))
}

func TestResetReArmsBreakerAndDropsCache(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{{Model: "res.partner", Name: "Contact"}},
	}
	svc := newTestService(adapter, Config{TTL: time.Hour, BreakerMax: 1, BreakerWindow: time.Minute})

	_, err := svc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.listCalls)

	svc.Reset()

	_, err = svc.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.listCalls, "reset must force a fresh fetch")
}

func TestDiscoverKeepsPersistedEnableToggles(t *testing.T) {
	adapter := &fakeAdapter{
		models: []odoo.RawModelInfo{
			{Model: "res.partner", Name: "Contact"},
			{Model: "crm.lead", Name: "Lead"},
		},
	}
	registry := &fakeRegistry{descriptors: map[string]ModelDescriptor{
		"res.partner": {Name: "res.partner", Enabled: false},
	}}
	svc := NewService(adapter, registry, Config{TTL: time.Hour, BreakerMax: 10, BreakerWindow: time.Minute}, loggy.NewNoopLogger())

	descriptors, err := svc.Discover(context.Background())
	require.NoError(t, err)

	byName := make(map[string]ModelDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	assert.False(t, byName["res.partner"].Enabled, "a disabled model must stay disabled across rediscovery")
	assert.True(t, byName["crm.lead"].Enabled, "newly discovered models default to enabled")
	assert.False(t, registry.descriptors["res.partner"].Enabled, "the persisted toggle must survive the upsert")
}

func TestFallbackDescriptorsNeverEmpty(t *testing.T) {
	descriptors := FallbackDescriptors(time.Now())
	require.NotEmpty(t, descriptors)
	for _, d := range descriptors {
		assert.NotEmpty(t, d.Name)
		assert.True(t, d.Enabled)
	}
}
