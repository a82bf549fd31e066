package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/psiconnect/backoffice/internal/auth"
)

// therapistColumns are the therapist fields an admin may edit directly.
var therapistColumns = map[string]bool{
	"full_name":           true,
	"email":               true,
	"phone":               true,
	"slug":                true,
	"status":              true,
	"plan":                true,
	"plan_name":           true,
	"subscription_status": true,
	"rejection_reason":    true,
}

// GetTherapist returns one therapist row as JSON.
func (s *Store) GetTherapist(ctx context.Context, id string) (json.RawMessage, error) {
	return s.call(ctx, `select to_jsonb(t) from therapists t where t.id = $1`, id)
}

// UpdateTherapist applies fields to a therapist row. Keys outside the
// editable column set are rejected before the query runs.
func (s *Store) UpdateTherapist(ctx context.Context, id string, fields map[string]any) (json.RawMessage, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", auth.ErrInvalidInput)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !therapistColumns[k] {
			return nil, fmt.Errorf("%w: field %q is not editable", auth.ErrInvalidInput, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+1)
	args := []any{id}
	for _, k := range keys {
		args = append(args, fields[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update therapists set %s where id = $1 returning to_jsonb(therapists.*)`,
		strings.Join(sets, ", "))
	return s.call(ctx, query, args...)
}

// DeleteTherapist removes a therapist and returns the deleted row.
func (s *Store) DeleteTherapist(ctx context.Context, id string) (json.RawMessage, error) {
	return s.call(ctx, `delete from therapists where id = $1 returning to_jsonb(therapists.*)`, id)
}

// ReviewTherapist stamps a review on a therapist. An empty status keeps the
// current one.
func (s *Store) ReviewTherapist(ctx context.Context, id, adminID, status string) (json.RawMessage, error) {
	return s.call(ctx, `
		update therapists
		set status = coalesce($2, status), reviewed_at = now(), reviewed_by = $3, updated_at = now()
		where id = $1
		returning to_jsonb(therapists.*)
	`, id, nullIfEmpty(status), adminID)
}

// ResolveTherapistEdit marks a pending therapist edit request resolved.
func (s *Store) ResolveTherapistEdit(ctx context.Context, id, adminID string) (json.RawMessage, error) {
	return s.call(ctx, `
		update therapists_edit
		set status = 'resolved', resolved_at = now(), resolved_by = $2
		where id = $1
		returning to_jsonb(therapists_edit.*)
	`, id, adminID)
}

// ResolveProfileEdit marks a pending profile edit request resolved.
func (s *Store) ResolveProfileEdit(ctx context.Context, id, adminID string) (json.RawMessage, error) {
	return s.call(ctx, `
		update profile_edits
		set status = 'resolved', resolved_at = now(), resolved_by = $2
		where id = $1
		returning to_jsonb(profile_edits.*)
	`, id, adminID)
}

// GetSubscription returns one subscription row as JSON.
func (s *Store) GetSubscription(ctx context.Context, id string) (json.RawMessage, error) {
	return s.call(ctx, `select to_jsonb(s) from subscriptions s where s.id = $1`, id)
}
