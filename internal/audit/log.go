// Package audit records privileged back-office mutations.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Store persists admin actions.
type Store interface {
	RecordAdminAction(ctx context.Context, a auth.AdminAction) error
}

// Recorder writes each event to the structured log and, when a store is
// configured, to the admin action table.
type Recorder struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewRecorder builds a recorder. store may be nil.
func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = obs.Logger()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record audits one privileged action performed by admin.
func (r *Recorder) Record(ctx context.Context, action string, admin *auth.AdminRow, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit: action name is required")
	}
	if admin == nil {
		return errors.New("audit: admin is required")
	}
	fields := make(map[string]any, len(metadata))
	for k, v := range metadata {
		fields[k] = v
	}
	entry := auth.AdminAction{
		Action:     action,
		AdminID:    admin.ID,
		Metadata:   fields,
		RequestID:  RequestIDFromContext(ctx),
		OccurredAt: r.now().UTC(),
	}

	r.log.Info("audit",
		zap.String("type", "audit"),
		zap.String("event", entry.Action),
		zap.String("admin_id", entry.AdminID),
		zap.String("user_id", admin.UserID),
		zap.String("request_id", entry.RequestID),
		zap.Any("fields", entry.Metadata),
	)

	if r.store == nil {
		return nil
	}
	if err := r.store.RecordAdminAction(ctx, entry); err != nil {
		return fmt.Errorf("audit: persist %s: %w", action, err)
	}
	return nil
}
