// Package discovery enumerates the remote model registry and decides which
// models are worth syncing. Results are cached with a TTL and guarded by a
// call-rate circuit breaker so a misbehaving caller cannot hammer the server.
package discovery

import (
	"strings"
	"time"
)

// SyncType describes how a model's records are pulled.
type SyncType string

const (
	// SyncTypeAll pulls the full collection on initial sync
	SyncTypeAll SyncType = "all"
	// SyncTypeTimeWindowed pulls only records changed within the configured window
	SyncTypeTimeWindowed SyncType = "time_windowed"
)

// ModelDescriptor describes one syncable remote model. Descriptors are
// immutable once cached within the discovery TTL.
type ModelDescriptor struct {
	Name         string
	DisplayName  string
	Description  string
	Enabled      bool
	SyncType     SyncType
	HasAccess    bool
	DiscoveredAt time.Time
}

// systemPrefixes are framework namespaces that never hold business data.
var systemPrefixes = []string{
	"ir.",
	"base.",
	"base_",
	"bus.",
	"web.",
	"web_",
	"report.",
	"wizard.",
	"auth.",
	"iap.",
	"digest.",
}

// systemSuffixes mark transient wizard/report helper models.
var systemSuffixes = []string{
	".wizard",
	".report",
	".mixin",
	".import",
	".export",
}

// unreliableModels are known to serialize inconsistently over the RPC
// surface and are excluded regardless of access.
var unreliableModels = map[string]bool{
	"res.config.settings": true,
	"ir.ui.view":          true,
	"mail.template":       true,
	"spreadsheet.mixin":   true,
}

// businessPrefixes is the curated allowlist of business-relevant model
// name patterns. A model must match one of these to be considered.
var businessPrefixes = []string{
	"res.partner",
	"res.users",
	"res.company",
	"crm.",
	"sale.",
	"purchase.",
	"account.",
	"product.",
	"project.",
	"stock.",
	"hr.",
	"helpdesk.",
	"calendar.event",
	"discuss.channel",
	"mail.activity",
	"ir.attachment",
}

// isSystemModel reports whether a model name belongs to a framework or
// transient namespace.
func isSystemModel(name string) bool {
	for _, prefix := range systemPrefixes {
		// ir.attachment is the one framework model the engine syncs
		if strings.HasPrefix(name, prefix) && name != "ir.attachment" {
			return true
		}
	}
	for _, suffix := range systemSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// isBusinessModel reports whether a model name matches the curated
// business allowlist.
func isBusinessModel(name string) bool {
	for _, pattern := range businessPrefixes {
		if name == pattern || strings.HasPrefix(name, pattern) {
			return true
		}
	}
	return false
}

// fallbackModels is the static descriptor list served when the circuit
// breaker is tripped or discovery cannot reach the server.
var fallbackModels = []string{
	"res.partner",
	"res.users",
	"crm.lead",
	"sale.order",
	"product.template",
	"product.product",
	"account.move",
	"project.project",
	"project.task",
	"helpdesk.ticket",
	"discuss.channel",
	"calendar.event",
	"ir.attachment",
}

// FallbackDescriptors returns the static descriptor list. All entries are
// assumed accessible; a later live discovery corrects that.
func FallbackDescriptors(now time.Time) []ModelDescriptor {
	descriptors := make([]ModelDescriptor, 0, len(fallbackModels))
	for _, name := range fallbackModels {
		descriptors = append(descriptors, ModelDescriptor{
			Name:         name,
			DisplayName:  name,
			Enabled:      true,
			SyncType:     SyncTypeTimeWindowed,
			HasAccess:    true,
			DiscoveredAt: now,
		})
	}
	return descriptors
}
