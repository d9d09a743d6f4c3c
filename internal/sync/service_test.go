package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/odoosync/internal/config"
	"github.com/tildaslashalef/odoosync/internal/conflict"
	"github.com/tildaslashalef/odoosync/internal/discovery"
	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
	"github.com/tildaslashalef/odoosync/internal/store"
)

type fakeRemote struct {
	mu       stdsync.Mutex
	records  map[string][]odoo.Record
	errs     map[string]error
	onceErrs map[string]error // consumed by the first call for that model
	reads    []string
	block    chan struct{} // when set, SearchRead waits until closed
}

func (f *fakeRemote) failure(model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.onceErrs[model]; ok {
		delete(f.onceErrs, model)
		return err
	}
	return f.errs[model]
}

func (f *fakeRemote) SearchCount(ctx context.Context, model string, domain odoo.Domain) (int, error) {
	if err := f.failure(model); err != nil {
		return 0, err
	}
	return len(f.records[model]), nil
}

func (f *fakeRemote) SearchRead(ctx context.Context, model string, domain odoo.Domain, opts odoo.QueryOptions) ([]odoo.Record, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.reads = append(f.reads, model)
	f.mu.Unlock()
	if err := f.failure(model); err != nil {
		return nil, err
	}
	return f.records[model], nil
}

type fakeGateway struct {
	upserts  map[string][]odoo.Record
	metadata map[string]*store.Metadata
	cached   bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		upserts:  make(map[string][]odoo.Record),
		metadata: make(map[string]*store.Metadata),
	}
}

func (g *fakeGateway) UpsertRecords(ctx context.Context, model string, records []odoo.Record) error {
	g.upserts[model] = append(g.upserts[model], records...)
	return nil
}

func (g *fakeGateway) CountRecords(ctx context.Context, model string) (int, error) {
	return len(g.upserts[model]), nil
}

func (g *fakeGateway) GetSyncMetadata(ctx context.Context, model string) (*store.Metadata, error) {
	return g.metadata[model], nil
}

func (g *fakeGateway) SetSyncMetadata(ctx context.Context, meta *store.Metadata) error {
	g.metadata[meta.Model] = meta
	return nil
}

func (g *fakeGateway) HasCachedData(ctx context.Context) (bool, error) {
	return g.cached, nil
}

type fakeResolver struct {
	resets int
}

func (f *fakeResolver) ResolveFields(ctx context.Context, model string) ([]string, error) {
	return []string{"id", "name", "write_date"}, nil
}

func (f *fakeResolver) Reset() { f.resets++ }

type fakeConflicts struct {
	blocked map[int64]bool
}

func (f *fakeConflicts) Resolve(ctx context.Context, model string, recordID int64, remote odoo.Record) (*conflict.Conflict, error) {
	if f.blocked[recordID] {
		return &conflict.Conflict{Model: model, RecordID: recordID, Resolution: conflict.KeepLocal}, nil
	}
	return nil, nil
}

type fakeModels struct {
	names []string
	err   error
}

func (f *fakeModels) Discover(ctx context.Context) ([]discovery.ModelDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	descriptors := make([]discovery.ModelDescriptor, 0, len(f.names))
	for _, name := range f.names {
		descriptors = append(descriptors, discovery.ModelDescriptor{
			Name: name, Enabled: true, HasAccess: true,
		})
	}
	return descriptors, nil
}

type memLogRepo struct {
	logs []*SyncLog
}

func (m *memLogRepo) SaveLog(ctx context.Context, log *SyncLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *memLogRepo) ListLogs(ctx context.Context, limit int) ([]*SyncLog, error) {
	return m.logs, nil
}

func record(id int64, name, writeDate string) odoo.Record {
	return odoo.Record{"id": float64(id), "name": name, "write_date": writeDate}
}

func newTestService(remote *fakeRemote, gateway *fakeGateway, conflicts ConflictScreen, models ModelSource) *Service {
	settings := testSettings()
	domains := NewDomainBuilder(gateway, settings)
	return NewService(
		remote, gateway, &fakeResolver{}, conflicts, models, domains,
		&memLogRepo{},
		config.SyncConfig{RecordLimit: 1000, ModelTimeout: time.Minute},
		loggy.NewNoopLogger(),
	)
}

func TestStartSyncHappyPath(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {
			record(1, "Acme", "2024-01-12 10:00:00"),
			record(2, "Globex", "2024-01-11 08:00:00"),
		},
		"crm.lead": {
			record(7, "Big deal", "2024-01-13 09:30:00"),
		},
	}}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner", "crm.lead"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 2, status.ModelsTotal)
	assert.Equal(t, 2, status.ModelsDone)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 3, status.RecordsSynced)
	assert.Equal(t, 3, status.TotalRecords)
	assert.Empty(t, status.Errors)
	assert.Len(t, gateway.upserts["res.partner"], 2)

	meta := gateway.metadata["res.partner"]
	require.NotNil(t, meta)
	require.NotNil(t, meta.LastSyncWriteDate)
	assert.Equal(t, "2024-01-12 10:00:00", odoo.FormatDatetime(*meta.LastSyncWriteDate))
	assert.Equal(t, 2, meta.TotalRecords)
}

func TestStartSyncSingleFlight(t *testing.T) {
	block := make(chan struct{})
	remote := &fakeRemote{
		records: map[string][]odoo.Record{"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")}},
		block:   block,
	}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		unsub := svc.OnStatusChange(func(st SyncStatus) {
			if st.State == StateRunning {
				select {
				case <-started:
				default:
					close(started)
				}
			}
		})
		defer unsub()
		done <- svc.StartSync(context.Background(), nil, false)
	}()

	<-started
	err := svc.StartSync(context.Background(), nil, false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, svc.GetStatus().State)
}

func TestStartSyncPartialFailureCompletesWithError(t *testing.T) {
	remote := &fakeRemote{
		records: map[string][]odoo.Record{
			"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		},
		errs: map[string]error{
			"crm.lead": &odoo.RPCError{Kind: odoo.KindServer, Model: "crm.lead", Message: "internal error"},
		},
	}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"crm.lead", "res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateCompleted, status.State)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "crm.lead", status.Errors[0].Model)
	assert.Len(t, gateway.upserts["res.partner"], 1, "later models still sync")
	assert.Contains(t, gateway.metadata["crm.lead"].LastError, "internal error")
}

func TestStartSyncAccessDeniedSkipsSilently(t *testing.T) {
	remote := &fakeRemote{
		records: map[string][]odoo.Record{
			"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		},
		errs: map[string]error{
			"account.move": &odoo.RPCError{Kind: odoo.KindAccessDenied, Model: "account.move", Message: "not allowed"},
		},
	}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"account.move", "res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateCompleted, status.State)
	assert.Empty(t, status.Errors, "revoked access is not an error")
}

func TestStartSyncFatalWithCacheGoesOffline(t *testing.T) {
	remote := &fakeRemote{
		errs: map[string]error{
			"res.partner": &odoo.RPCError{Kind: odoo.KindConnectivity, Message: "connection refused"},
		},
	}
	gateway := newFakeGateway()
	gateway.cached = true
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateCompleted, status.State)
	assert.True(t, status.Offline)
}

func TestStartSyncFatalWithoutCacheFails(t *testing.T) {
	remote := &fakeRemote{
		errs: map[string]error{
			"res.partner": &odoo.RPCError{Kind: odoo.KindAuth, Message: "invalid credentials"},
		},
	}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}})

	err := svc.StartSync(context.Background(), nil, false)
	require.Error(t, err)
	assert.Equal(t, StateFailed, svc.GetStatus().State)
}

func TestStartSyncCancellationBetweenModels(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		"crm.lead":    {record(7, "Big deal", "2024-01-13 09:30:00")},
	}}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner", "crm.lead"}})

	// cancel as soon as the first model commits
	unsub := svc.OnStatusChange(func(st SyncStatus) {
		if st.ModelsDone == 1 {
			svc.CancelSync()
		}
	})
	defer unsub()

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateFailed, status.State)
	require.NotEmpty(t, status.Errors)
	assert.Contains(t, status.Errors[len(status.Errors)-1].Message, "cancelled")
	assert.Len(t, gateway.upserts["res.partner"], 1, "in-flight model commits fully")
	assert.Empty(t, gateway.upserts["crm.lead"])
}

func TestStartSyncIdempotentWatermark(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
	}}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))
	first := *gateway.metadata["res.partner"].LastSyncWriteDate

	// second run re-fetches the same records; the watermark must not move
	require.NoError(t, svc.StartSync(context.Background(), nil, false))
	second := *gateway.metadata["res.partner"].LastSyncWriteDate
	assert.True(t, second.Equal(first))

	// a newer record advances it
	remote.records["res.partner"] = append(remote.records["res.partner"],
		record(2, "Globex", "2024-01-15 10:00:00"))
	require.NoError(t, svc.StartSync(context.Background(), nil, false))
	third := *gateway.metadata["res.partner"].LastSyncWriteDate
	assert.True(t, third.After(second))
}

func TestStartSyncConflictBlocksRemoteWrite(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {
			record(1, "Acme", "2024-01-12 10:00:00"),
			record(2, "Globex", "2024-01-13 10:00:00"),
		},
	}}
	gateway := newFakeGateway()
	conflicts := &fakeConflicts{blocked: map[int64]bool{2: true}}
	svc := newTestService(remote, gateway, conflicts, &fakeModels{names: []string{"res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	require.Len(t, gateway.upserts["res.partner"], 1)
	assert.EqualValues(t, 1, gateway.upserts["res.partner"][0].ID())

	// the watermark advances only over records that actually landed, so
	// the next incremental pull fetches the blocked record again
	meta := gateway.metadata["res.partner"]
	assert.Equal(t, "2024-01-12 10:00:00", odoo.FormatDatetime(*meta.LastSyncWriteDate))
}

func TestStartSyncBlockedRecordAppliesAfterResolution(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {
			record(1, "Acme", "2024-01-12 10:00:00"),
			record(2, "Globex", "2024-01-13 10:00:00"),
		},
	}}
	gateway := newFakeGateway()
	conflicts := &fakeConflicts{blocked: map[int64]bool{1: true}}
	svc := newTestService(remote, gateway, conflicts, &fakeModels{names: []string{"res.partner"}})

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	require.Len(t, gateway.upserts["res.partner"], 1)
	assert.EqualValues(t, 2, gateway.upserts["res.partner"][0].ID())

	// the watermark stops at the blocked record, not at the batch max,
	// so the record is still inside the next incremental window
	meta := gateway.metadata["res.partner"]
	assert.Equal(t, "2024-01-12 10:00:00", odoo.FormatDatetime(*meta.LastSyncWriteDate))

	// the conflict is resolved keep-remote; the next run refetches the
	// parked record and it finally lands
	conflicts.blocked = nil
	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	var ids []int64
	for _, rec := range gateway.upserts["res.partner"] {
		ids = append(ids, rec.ID())
	}
	assert.Contains(t, ids, int64(1))
	assert.Equal(t, "2024-01-13 10:00:00", odoo.FormatDatetime(*gateway.metadata["res.partner"].LastSyncWriteDate))
}

func TestStartSyncSchemaErrorRetriesWithFallback(t *testing.T) {
	remote := &fakeRemote{
		records: map[string][]odoo.Record{
			"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		},
	}
	// the first call fails with a schema error, the retry succeeds
	remote.onceErrs = map[string]error{
		"res.partner": &odoo.RPCError{Kind: odoo.KindSchema, Model: "res.partner", Message: "Invalid field"},
	}

	gateway := newFakeGateway()
	resolver := &fakeResolver{}
	settings := testSettings()
	domains := NewDomainBuilder(gateway, settings)
	svc := NewService(
		remote, gateway, resolver, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}},
		domains, &memLogRepo{},
		config.SyncConfig{RecordLimit: 1000, ModelTimeout: time.Minute},
		loggy.NewNoopLogger(),
	)

	require.NoError(t, svc.StartSync(context.Background(), nil, false))

	status := svc.GetStatus()
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 1, resolver.resets, "schema failure invalidates the field cache")
	assert.Len(t, gateway.upserts["res.partner"], 1)
}

func TestStartSyncProgressAdvancesPerModel(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		"crm.lead":    {record(7, "Big deal", "2024-01-13 09:30:00")},
	}}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner", "crm.lead"}})

	var progress []int
	unsub := svc.OnStatusChange(func(st SyncStatus) {
		if len(progress) == 0 || progress[len(progress)-1] != st.Progress {
			progress = append(progress, st.Progress)
		}
	})
	defer unsub()

	require.NoError(t, svc.StartSync(context.Background(), nil, false))
	assert.Equal(t, []int{0, 50, 100}, progress)
	assert.Equal(t, 2, svc.GetStatus().TotalRecords)
}

func TestStartSyncStatusTransitions(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
	}}
	gateway := newFakeGateway()
	svc := newTestService(remote, gateway, &fakeConflicts{}, &fakeModels{names: []string{"res.partner"}})

	var states []State
	unsub := svc.OnStatusChange(func(st SyncStatus) {
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
		}
	})
	defer unsub()

	require.NoError(t, svc.StartSync(context.Background(), nil, false))
	assert.Equal(t, []State{StateRunning, StateCompleted}, states)
}

func TestStartSyncSelectedModelsOnly(t *testing.T) {
	remote := &fakeRemote{records: map[string][]odoo.Record{
		"res.partner": {record(1, "Acme", "2024-01-12 10:00:00")},
		"crm.lead":    {record(7, "Big deal", "2024-01-13 09:30:00")},
	}}
	gateway := newFakeGateway()
	models := &fakeModels{err: fmt.Errorf("discovery must not be called")}
	svc := newTestService(remote, gateway, &fakeConflicts{}, models)

	require.NoError(t, svc.StartSync(context.Background(), []string{"crm.lead"}, false))

	assert.Empty(t, gateway.upserts["res.partner"])
	assert.Len(t, gateway.upserts["crm.lead"], 1)
}
