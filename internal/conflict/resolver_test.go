package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

type fakeMutations struct {
	byRecord map[int64][]LocalMutation
}

func (f *fakeMutations) PendingForRecord(ctx context.Context, model string, recordID int64) ([]LocalMutation, error) {
	return f.byRecord[recordID], nil
}

type memRepo struct {
	saved []*Conflict
}

func (m *memRepo) Save(ctx context.Context, c *Conflict) error {
	m.saved = append(m.saved, c)
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*Conflict, error) {
	for _, c := range m.saved {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListPending(ctx context.Context) ([]*Conflict, error) {
	var pending []*Conflict
	for _, c := range m.saved {
		if c.Resolution == PendingUser {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

func (m *memRepo) ListForRecord(ctx context.Context, model string, recordID int64) ([]*Conflict, error) {
	var matched []*Conflict
	for _, c := range m.saved {
		if c.Model == model && c.RecordID == recordID {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (m *memRepo) SetResolution(ctx context.Context, id string, resolution Resolution) error {
	for _, c := range m.saved {
		if c.ID == id {
			c.Resolution = resolution
		}
	}
	return nil
}

func remoteRecord(writeDate time.Time, fields map[string]any) odoo.Record {
	rec := odoo.Record{
		"id":         float64(42),
		"write_date": odoo.FormatDatetime(writeDate),
	}
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}

func TestResolveNoPendingMutations(t *testing.T) {
	r := NewResolver(&fakeMutations{}, &memRepo{}, LastWriteWins, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42, remoteRecord(time.Now(), nil))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveNoCollisionWhenValuesMatch(t *testing.T) {
	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"name": "Acme"}, CreatedAt: time.Now()}},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, LastWriteWins, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42,
		remoteRecord(time.Now(), map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, repo.saved)
}

func TestResolveLastWriteWinsRemoteNewer(t *testing.T) {
	localEdit := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	remoteWrite := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"name": "Acme Ltd"}, CreatedAt: localEdit}},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, LastWriteWins, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42,
		remoteRecord(remoteWrite, map[string]any{"name": "Acme Inc"}))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, KeepRemote, c.Resolution)
	assert.False(t, c.Blocked())
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "name", repo.saved[0].Field)
}

func TestResolveLastWriteWinsLocalNewer(t *testing.T) {
	localEdit := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	remoteWrite := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"name": "Acme Ltd"}, CreatedAt: localEdit}},
	}}
	r := NewResolver(muts, &memRepo{}, LastWriteWins, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42,
		remoteRecord(remoteWrite, map[string]any{"name": "Acme Inc"}))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, KeepLocal, c.Resolution)
	assert.True(t, c.Blocked())
}

func TestResolveAskUserBlocksRemoteWrite(t *testing.T) {
	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"phone": "+100"}, CreatedAt: time.Now()}},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, AskUser, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42,
		remoteRecord(time.Now(), map[string]any{"phone": "+200"}))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, PendingUser, c.Resolution)
	assert.True(t, c.Blocked())

	require.NoError(t, r.ResolvePending(context.Background(), c.ID, true))
	assert.Equal(t, KeepLocal, repo.saved[0].Resolution)
}

func TestResolveParkedConflictKeepsBlockingWithoutDuplicates(t *testing.T) {
	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"phone": "+100"}, CreatedAt: time.Now()}},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, AskUser, loggy.NewNoopLogger())
	remote := remoteRecord(time.Now(), map[string]any{"phone": "+200"})

	first, err := r.Resolve(context.Background(), "res.partner", 42, remote)
	require.NoError(t, err)
	require.NotNil(t, first)

	// the next pull sees the same collision while the user has not decided
	second, err := r.Resolve(context.Background(), "res.partner", 42, remote)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Blocked())
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.saved, 1)
}

func TestResolveKeepRemoteDecisionUnblocksRefetch(t *testing.T) {
	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {{Payload: map[string]any{"phone": "+100"}, CreatedAt: time.Now()}},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, AskUser, loggy.NewNoopLogger())
	remote := remoteRecord(time.Now(), map[string]any{"phone": "+200"})

	c, err := r.Resolve(context.Background(), "res.partner", 42, remote)
	require.NoError(t, err)
	require.True(t, c.Blocked())

	require.NoError(t, r.ResolvePending(context.Background(), c.ID, false))

	// the record comes back on the next pull and must land this time
	again, err := r.Resolve(context.Background(), "res.partner", 42, remote)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, KeepRemote, again.Resolution)
	assert.False(t, again.Blocked())
	assert.Len(t, repo.saved, 1)
}

func TestResolveMergesMutationsInOrder(t *testing.T) {
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	muts := &fakeMutations{byRecord: map[int64][]LocalMutation{
		42: {
			{Payload: map[string]any{"name": "First"}, CreatedAt: base},
			{Payload: map[string]any{"name": "Second"}, CreatedAt: base.Add(time.Hour)},
		},
	}}
	repo := &memRepo{}
	r := NewResolver(muts, repo, LastWriteWins, loggy.NewNoopLogger())

	c, err := r.Resolve(context.Background(), "res.partner", 42,
		remoteRecord(base.Add(2*time.Hour), map[string]any{"name": "Second"}))
	require.NoError(t, err)
	assert.Nil(t, c, "latest queued value matches remote, no conflict")
	assert.Empty(t, repo.saved)
}

func TestCanonicalValue(t *testing.T) {
	// remote null shows up as boolean false
	assert.Equal(t, canonicalValue(nil), canonicalValue(false))
	// many2one pairs compare by id
	assert.Equal(t, "7", canonicalValue([]any{float64(7), "Mitchell Admin"}))
	assert.Equal(t, canonicalValue(int64(7)), canonicalValue(float64(7)))
	// datetime strings normalize regardless of wire layout
	assert.Equal(t,
		canonicalValue("2024-01-10 15:04:05"),
		canonicalValue("2024-01-10T15:04:05Z"))
	assert.NotEqual(t, canonicalValue("Acme"), canonicalValue("Acme Inc"))
	assert.Equal(t, "Acme", canonicalValue("  Acme  "))
}
