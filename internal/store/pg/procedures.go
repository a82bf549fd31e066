package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBackend wraps failures raised by backend procedures.
var ErrBackend = errors.New("store: backend procedure failed")

// ApproveTherapist runs approve_therapist for the given therapist.
func (s *Store) ApproveTherapist(ctx context.Context, therapistID, adminID, notes string) (json.RawMessage, error) {
	return s.call(ctx, `select approve_therapist(therapist_id => $1, admin_id => $2, notes => $3)`,
		therapistID, adminID, nullIfEmpty(notes))
}

// RejectTherapist runs reject_therapist for the given therapist.
func (s *Store) RejectTherapist(ctx context.Context, therapistID, adminID, reason string) (json.RawMessage, error) {
	return s.call(ctx, `select reject_therapist(therapist_id => $1, admin_id => $2, rejection_reason => $3)`,
		therapistID, adminID, nullIfEmpty(reason))
}

// CancelSubscription runs cancel_subscription.
func (s *Store) CancelSubscription(ctx context.Context, subscriptionID, adminID string) (json.RawMessage, error) {
	return s.call(ctx, `select cancel_subscription(subscription_id => $1, admin_id => $2)`, subscriptionID, adminID)
}

// ActivateSubscription runs activate_subscription.
func (s *Store) ActivateSubscription(ctx context.Context, subscriptionID, adminID string) (json.RawMessage, error) {
	return s.call(ctx, `select activate_subscription(subscription_id => $1, admin_id => $2)`, subscriptionID, adminID)
}

// ReviewVerification marks a verification entry approved or rejected and
// returns the updated row.
func (s *Store) ReviewVerification(ctx context.Context, id, adminID string, approved bool, reason string) (json.RawMessage, error) {
	status := "rejected"
	if approved {
		status = "approved"
	}
	return s.call(ctx, `
		update verification_data
		set status = $2, reviewed_at = now(), reviewed_by = $3,
		    rejection_reason = coalesce($4, rejection_reason)
		where id = $1
		returning to_jsonb(verification_data.*)
	`, id, status, adminID, nullIfEmpty(reason))
}

func (s *Store) call(ctx context.Context, query string, args ...any) (json.RawMessage, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			return nil, fmt.Errorf("%w: %s", ErrBackend, strings.TrimSpace(pgErr.Message))
		}
		return nil, err
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}
