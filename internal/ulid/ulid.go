// Package ulid provides prefixed, lexicographically sortable identifiers
// for odoosync entities, backed by github.com/oklog/ulid/v2.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the different entity identifiers
const (
	// PrefixMutation is used for pending offline mutations
	PrefixMutation = "mut"

	// PrefixConflict is used for persisted conflicts
	PrefixConflict = "conf"

	// PrefixSyncLog is used for sync run log entries
	PrefixSyncLog = "log"

	// PrefixSetting is used for settings rows
	PrefixSetting = "set"

	// PrefixSeparator separates the prefix from the ULID body
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// Generate creates a new ULID string with the current timestamp.
func Generate() string {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID string with the given prefix,
// e.g. "mut-01AN4Z07BY79KA1307SR9X4MV3".
func GenerateWithPrefix(prefix string) string {
	return prefix + PrefixSeparator + Generate()
}

// NewWithTime creates a new ULID string with a specific timestamp.
func NewWithTime(t time.Time) string {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return id.String()
}

// Validate checks whether a string is a valid (optionally prefixed) ULID.
func Validate(id string) bool {
	raw := id
	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		raw = id[i+1:]
	}
	_, err := ulid.Parse(raw)
	return err == nil
}

// Time extracts the timestamp embedded in a (optionally prefixed) ULID.
func Time(id string) (time.Time, error) {
	raw := id
	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		raw = id[i+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(parsed.Time())), nil
}

// MutationID generates a new ULID with the mutation prefix
func MutationID() string {
	return GenerateWithPrefix(PrefixMutation)
}

// ConflictID generates a new ULID with the conflict prefix
func ConflictID() string {
	return GenerateWithPrefix(PrefixConflict)
}

// SyncLogID generates a new ULID with the sync log prefix
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog)
}

// SettingID generates a new ULID with the setting prefix
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting)
}
