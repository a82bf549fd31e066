package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psiconnect/backoffice/internal/auth"
)

const (
	defaultActionLimit = 50
	maxActionLimit     = 500
)

// RecordAdminAction appends one entry to the admin action log.
func (s *Store) RecordAdminAction(ctx context.Context, a auth.AdminAction) error {
	if s.db == nil {
		return errNoDB
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	meta, err := encodeJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into admin_actions (id, action, admin_id, metadata, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Action, a.AdminID, meta, nullIfEmpty(a.RequestID), a.OccurredAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListAdminActions returns the most recent entries first.
func (s *Store) ListAdminActions(ctx context.Context, limit int) ([]auth.AdminAction, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 {
		limit = defaultActionLimit
	}
	if limit > maxActionLimit {
		limit = maxActionLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, action, admin_id, metadata, coalesce(request_id, ''), occurred_at
		from admin_actions
		order by occurred_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.AdminAction{}
	for rows.Next() {
		var (
			a       auth.AdminAction
			adminID sql.NullString
			rawMeta []byte
		)
		if err := rows.Scan(&a.ID, &a.Action, &adminID, &rawMeta, &a.RequestID, &a.OccurredAt); err != nil {
			return nil, err
		}
		// admin_id is nulled when the acting admin record is deleted.
		a.AdminID = adminID.String
		a.Metadata = map[string]any{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
