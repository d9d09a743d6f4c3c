// Package fields resolves which fields of a remote model are safe and
// worthwhile to pull during sync. Resolution works over typed capability
// records derived from the server's field metadata rather than ad-hoc
// string checks scattered through query construction.
package fields

import "github.com/tildaslashalef/odoosync/internal/odoo"

// Kind is the normalized field type of a remote model field.
type Kind string

const (
	KindScalar    Kind = "scalar"
	KindText      Kind = "text"
	KindDatetime  Kind = "datetime"
	KindBinary    Kind = "binary"
	KindMany2One  Kind = "many2one"
	KindMany2Many Kind = "many2many"
	KindOne2Many  Kind = "one2many"
	KindSelection Kind = "selection"
	KindUnknown   Kind = "unknown"
)

// Capability describes one field of a remote model in terms the sync
// engine cares about.
type Capability struct {
	Name   string
	Kind   Kind
	Stored bool
	Binary bool
}

// kindOf maps a raw remote field type onto a Kind.
func kindOf(fieldType string) Kind {
	switch fieldType {
	case "char", "integer", "float", "monetary", "boolean":
		return KindScalar
	case "text", "html":
		return KindText
	case "date", "datetime":
		return KindDatetime
	case "binary", "image":
		return KindBinary
	case "many2one":
		return KindMany2One
	case "many2many":
		return KindMany2Many
	case "one2many":
		return KindOne2Many
	case "selection", "reference":
		return KindSelection
	default:
		return KindUnknown
	}
}

// capabilitiesFrom converts raw fields_get metadata into capability records.
func capabilitiesFrom(raw map[string]odoo.FieldInfo) []Capability {
	caps := make([]Capability, 0, len(raw))
	for name, info := range raw {
		kind := kindOf(info.Type)
		caps = append(caps, Capability{
			Name:   name,
			Kind:   kind,
			Stored: info.Store,
			Binary: kind == KindBinary,
		})
	}
	return caps
}
