package fields

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

type fakeSource struct {
	fields map[string]map[string]odoo.FieldInfo
	err    error
	calls  int
}

func (f *fakeSource) FieldsGet(ctx context.Context, model string) (map[string]odoo.FieldInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fields[model], nil
}

func partnerFields() map[string]odoo.FieldInfo {
	return map[string]odoo.FieldInfo{
		"id":            {Type: "integer", Store: true},
		"name":          {Type: "char", Store: true},
		"email":         {Type: "char", Store: true},
		"write_date":    {Type: "datetime", Store: true},
		"image_1920":    {Type: "binary", Store: true},
		"child_ids":     {Type: "one2many", Store: true, Relation: "res.partner"},
		"parent_id":     {Type: "many2one", Store: true, Relation: "res.partner"},
		"category_id":   {Type: "many2many", Store: true, Relation: "res.partner.category"},
		"display_name":  {Type: "char", Store: false},
		"__last_update": {Type: "datetime", Store: false},
		"total_due":     {Type: "monetary", Store: false},
		"message_ids":   {Type: "one2many", Store: false},
	}
}

func TestResolveFieldsFiltersByCapability(t *testing.T) {
	source := &fakeSource{fields: map[string]map[string]odoo.FieldInfo{"res.partner": partnerFields()}}
	r := NewResolver(source, loggy.NewNoopLogger())

	got, err := r.ResolveFields(context.Background(), "res.partner")
	require.NoError(t, err)

	// binary, one2many, not-stored, meta and denylisted fields are gone
	assert.Equal(t, []string{"category_id", "email", "id", "name", "parent_id", "write_date"}, got)
}

func TestResolveFieldsCachesUntilReset(t *testing.T) {
	source := &fakeSource{fields: map[string]map[string]odoo.FieldInfo{"res.partner": partnerFields()}}
	r := NewResolver(source, loggy.NewNoopLogger())

	_, err := r.ResolveFields(context.Background(), "res.partner")
	require.NoError(t, err)
	_, err = r.ResolveFields(context.Background(), "res.partner")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	r.Reset()
	_, err = r.ResolveFields(context.Background(), "res.partner")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestResolveFieldsAllowlistOverride(t *testing.T) {
	source := &fakeSource{}
	r := NewResolver(source, loggy.NewNoopLogger())

	got, err := r.ResolveFields(context.Background(), "ir.attachment")
	require.NoError(t, err)

	assert.Contains(t, got, "name")
	assert.Contains(t, got, "mimetype")
	assert.NotContains(t, got, "datas")
	assert.Equal(t, 0, source.calls, "allowlisted models must not hit the server")
}

func TestResolveFieldsFallbackOnFetchFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("boom")}
	r := NewResolver(source, loggy.NewNoopLogger())

	got, err := r.ResolveFields(context.Background(), "res.partner")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Contains(t, got, "write_date")

	// unknown models still get a non-empty generic fallback
	got, err = r.ResolveFields(context.Background(), "some.custom.model")
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	// failures are not cached, a later call retries the fetch
	assert.Equal(t, 2, source.calls)
}

func TestSelectFieldsEmptyMetadataFallsBack(t *testing.T) {
	source := &fakeSource{fields: map[string]map[string]odoo.FieldInfo{}}
	r := NewResolver(source, loggy.NewNoopLogger())

	got, err := r.ResolveFields(context.Background(), "crm.lead")
	require.NoError(t, err)
	assert.Equal(t, FallbackFields("crm.lead"), got)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindScalar, kindOf("char"))
	assert.Equal(t, KindScalar, kindOf("monetary"))
	assert.Equal(t, KindText, kindOf("html"))
	assert.Equal(t, KindDatetime, kindOf("date"))
	assert.Equal(t, KindBinary, kindOf("image"))
	assert.Equal(t, KindMany2One, kindOf("many2one"))
	assert.Equal(t, KindSelection, kindOf("reference"))
	assert.Equal(t, KindUnknown, kindOf("properties"))
}
