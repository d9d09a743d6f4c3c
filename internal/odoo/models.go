// Package odoo provides a JSON-RPC client for Odoo-style model servers.
// It exposes the generic model surface (search_read, search_count, fields_get,
// ir.model listing and execute_kw) used by the synchronization engine.
package odoo

import (
	"encoding/json"
	"time"
)

// Record is a single remote record as returned by search_read.
// Values are decoded JSON: numbers arrive as float64, null columns as false.
type Record map[string]any

// ID returns the record's numeric id, or 0 when absent.
func (r Record) ID() int64 {
	switch v := r["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		id, _ := v.Int64()
		return id
	}
	return 0
}

// WriteDate returns the record's change timestamp, or the zero time when
// absent or unparsable. Odoo serializes datetimes as "2006-01-02 15:04:05" UTC.
func (r Record) WriteDate() time.Time {
	s, ok := r["write_date"].(string)
	if !ok {
		return time.Time{}
	}
	t, err := ParseDatetime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DatetimeLayout is the wire format Odoo uses for datetime fields (always UTC).
const DatetimeLayout = "2006-01-02 15:04:05"

// ParseDatetime parses a server datetime string into a UTC time.
func ParseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse(DatetimeLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// FormatDatetime formats a time into the server's datetime wire format.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(DatetimeLayout)
}

// Condition is a single domain predicate triplet, serialized as
// ["field", "operator", value].
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// MarshalJSON serializes the condition as the triplet array the server expects.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{c.Field, c.Operator, c.Value})
}

// UnmarshalJSON decodes a triplet array back into a condition.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw [3]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	field, _ := raw[0].(string)
	op, _ := raw[1].(string)
	c.Field = field
	c.Operator = op
	c.Value = raw[2]
	return nil
}

// Domain is a server-side query predicate. An empty domain is unrestricted.
type Domain []Condition

// ChangedSince returns a domain matching records whose write_date is at or
// after the given time. The comparison is inclusive so a record changed
// exactly at the boundary is never missed.
func ChangedSince(t time.Time) Domain {
	return Domain{{Field: "write_date", Operator: ">=", Value: FormatDatetime(t)}}
}

// QueryOptions bound a search_read call.
type QueryOptions struct {
	Fields  []string
	Limit   int
	Offset  int
	Order   string
	Timeout time.Duration
}

// RawModelInfo is one row of the server's model registry (ir.model).
type RawModelInfo struct {
	ID          int64  `json:"id"`
	Model       string `json:"model"`
	Name        string `json:"name"`
	Info        string `json:"info"`
	Transient   bool   `json:"transient"`
	IsAbstract  bool   `json:"abstract"`
	ModuleState string `json:"state"`
}

// FieldInfo is the remote definition of one field as reported by fields_get.
type FieldInfo struct {
	Type     string `json:"type"`
	Label    string `json:"string"`
	Store    bool   `json:"store"`
	Required bool   `json:"required"`
	Readonly bool   `json:"readonly"`
	Relation string `json:"relation,omitempty"`
}

// Session holds the authenticated identity for subsequent object calls.
type Session struct {
	UID      int64
	Database string
	Login    string
}
