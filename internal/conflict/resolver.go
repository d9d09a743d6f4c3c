package conflict

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
	"github.com/tildaslashalef/odoosync/internal/ulid"
)

// MutationSource exposes the queued local edits for a record.
type MutationSource interface {
	PendingForRecord(ctx context.Context, model string, recordID int64) ([]LocalMutation, error)
}

// Resolver screens incoming remote records against queued local edits.
type Resolver struct {
	mutations MutationSource
	repo      Repository
	policy    Policy
	logger    *loggy.Logger
	now       func() time.Time
}

// NewResolver creates a conflict resolver with the given policy.
func NewResolver(mutations MutationSource, repo Repository, policy Policy, logger *loggy.Logger) *Resolver {
	return &Resolver{
		mutations: mutations,
		repo:      repo,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve checks an incoming remote record against the pending-mutation
// queue. It returns nil when there is no collision. When a collision is
// found it is persisted and returned; call Blocked on the result to learn
// whether the remote write must be skipped.
func (r *Resolver) Resolve(ctx context.Context, model string, recordID int64, remote odoo.Record) (*Conflict, error) {
	if recordID == 0 {
		return nil, nil
	}

	mutations, err := r.mutations.PendingForRecord(ctx, model, recordID)
	if err != nil {
		return nil, fmt.Errorf("looking up pending mutations for %s/%d: %w", model, recordID, err)
	}
	if len(mutations) == 0 {
		return nil, nil
	}

	local := make(map[string]any)
	var lastEdit time.Time
	for _, m := range mutations {
		for field, value := range m.Payload {
			local[field] = value
		}
		if m.CreatedAt.After(lastEdit) {
			lastEdit = m.CreatedAt
		}
	}

	prior, err := r.repo.ListForRecord(ctx, model, recordID)
	if err != nil {
		return nil, fmt.Errorf("looking up recorded conflicts for %s/%d: %w", model, recordID, err)
	}
	ruled := make(map[string]*Conflict, len(prior))
	for _, c := range prior {
		ruled[c.Field] = c
	}

	var diffs []*Conflict
	detectedAt := r.now()
	for field, localValue := range local {
		remoteValue, ok := remote[field]
		if !ok {
			continue
		}
		localNorm := canonicalValue(localValue)
		remoteNorm := canonicalValue(remoteValue)
		if localNorm == remoteNorm {
			continue
		}

		// The same collision may come back on a later pull, the blocked
		// record stays inside the incremental window until it lands. An
		// existing ruling carries over: a parked conflict keeps blocking
		// without a duplicate row, a keep-remote decision lets the
		// refetched record through.
		if prev, ok := ruled[field]; ok && prev.LocalValue == localNorm {
			diffs = append(diffs, prev)
			continue
		}

		diffs = append(diffs, &Conflict{
			ID:          ulid.ConflictID(),
			Model:       model,
			RecordID:    recordID,
			Field:       field,
			LocalValue:  localNorm,
			RemoteValue: remoteNorm,
			DetectedAt:  detectedAt,
		})
	}
	if len(diffs) == 0 {
		return nil, nil
	}

	resolution := r.decide(lastEdit, remote.WriteDate())
	fresh := 0
	for _, d := range diffs {
		if d.Resolution != "" {
			continue
		}
		d.Resolution = resolution
		if err := r.repo.Save(ctx, d); err != nil {
			return nil, fmt.Errorf("persisting conflict: %w", err)
		}
		fresh++
	}

	if fresh > 0 {
		r.logger.Warn("conflict detected",
			"model", model, "record_id", recordID,
			"fields", fresh, "resolution", resolution)
	}

	// One blocked field blocks the whole record.
	for _, d := range diffs {
		if d.Blocked() {
			return d, nil
		}
	}
	return diffs[0], nil
}

// ResolvePending applies the user's decision to a parked conflict.
func (r *Resolver) ResolvePending(ctx context.Context, conflictID string, keepLocal bool) error {
	resolution := KeepRemote
	if keepLocal {
		resolution = KeepLocal
	}
	if err := r.repo.SetResolution(ctx, conflictID, resolution); err != nil {
		return fmt.Errorf("resolving conflict %s: %w", conflictID, err)
	}
	return nil
}

// decide picks the resolution for a detected collision.
func (r *Resolver) decide(lastLocalEdit, remoteWrite time.Time) Resolution {
	if r.policy == AskUser {
		return PendingUser
	}
	// last_write_wins compares the newest local edit against the remote
	// write_date; a missing remote write_date loses to any local edit
	if remoteWrite.After(lastLocalEdit) {
		return KeepRemote
	}
	return KeepLocal
}

// canonicalValue renders a value in a form stable across the wire
// formatting quirks of the remote: false stands in for null, many2one
// values arrive as [id, label] pairs, numbers arrive as float64, and
// datetimes arrive as naive UTC strings.
func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if !t {
			// remote null
			return ""
		}
		return "true"
	case string:
		s := strings.TrimSpace(t)
		if parsed, err := odoo.ParseDatetime(s); err == nil {
			return parsed.UTC().Format(time.RFC3339)
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []any:
		// many2one pairs compare by id only
		if len(t) == 2 {
			if id, ok := t[0].(float64); ok {
				return strconv.FormatFloat(id, 'f', -1, 64)
			}
		}
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, canonicalValue(e))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
