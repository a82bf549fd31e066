package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/identity"
	"github.com/psiconnect/backoffice/internal/store/pg"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type reviewRequest struct {
	Notes  string `json:"notes"`
	Status string `json:"status"`
}

type updateUserRequest struct {
	Email        *string        `json:"email,omitempty"`
	Password     *string        `json:"password,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type createAdminRequest struct {
	UserID      string          `json:"user_id"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// authorize resolves the calling admin and checks action against it.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, action string) (*auth.AdminRow, bool) {
	admin, ok := currentAdmin(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return nil, false
	}
	if !auth.HasPermission(admin, action) {
		writeError(w, r, http.StatusForbidden, codeInsufficientPermissions,
			"access denied: insufficient permissions for this action")
		return nil, false
	}
	return admin, true
}

// pathID returns the {id} URL parameter when it is a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "id must be a uuid")
		return "", false
	}
	return id, true
}

// record audits a completed action. The mutation already happened, so a
// failure here is logged and not reported to the caller.
func (a *API) record(ctx context.Context, action string, admin *auth.AdminRow, meta map[string]any) {
	if a.auditor == nil {
		return
	}
	if err := a.auditor.Record(ctx, action, admin, meta); err != nil {
		a.log.Warn("audit record failed", zap.String("action", action), zap.String("admin_id", admin.ID), zap.Error(err))
	}
}

func (a *API) backendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, pg.ErrBackend):
		writeError(w, r, http.StatusBadRequest, codeBackend, err.Error())
	default:
		a.log.Error("backend call failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// runProcedure handles the shared shape of the backend mutation routes.
func (a *API) runProcedure(w http.ResponseWriter, r *http.Request, action, idKey string, body any,
	call func(ctx context.Context, id, adminID string) (json.RawMessage, error), meta func() map[string]any) {
	admin, ok := a.authorize(w, r, action)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if body != nil {
		if err := decodeOptionalJSON(w, r, body); err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
	}
	if a.backend == nil {
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "backend unavailable")
		return
	}
	data, err := call(r.Context(), id, admin.ID)
	if err != nil {
		a.backendError(w, r, err)
		return
	}
	fields := map[string]any{idKey: id}
	if meta != nil {
		for k, v := range meta() {
			fields[k] = v
		}
	}
	a.record(r.Context(), action, admin, fields)
	writeData(w, http.StatusOK, data)
}

// runRead serves the detail routes. Reads are not audited.
func (a *API) runRead(w http.ResponseWriter, r *http.Request, action string,
	call func(ctx context.Context, id string) (json.RawMessage, error)) {
	if _, ok := a.authorize(w, r, action); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if a.backend == nil {
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "backend unavailable")
		return
	}
	data, err := call(r.Context(), id)
	if err != nil {
		a.backendError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, data)
}

func (a *API) handleGetTherapist(w http.ResponseWriter, r *http.Request) {
	a.runRead(w, r, auth.ActionViewTherapists, func(ctx context.Context, id string) (json.RawMessage, error) {
		return a.backend.GetTherapist(ctx, id)
	})
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	a.runRead(w, r, auth.ActionViewPayments, func(ctx context.Context, id string) (json.RawMessage, error) {
		return a.backend.GetSubscription(ctx, id)
	})
}

func (a *API) handleUpdateTherapist(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	a.runProcedure(w, r, auth.ActionUpdateTherapist, "therapistId", &fields,
		func(ctx context.Context, id, _ string) (json.RawMessage, error) {
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: nothing to update", auth.ErrInvalidInput)
			}
			return a.backend.UpdateTherapist(ctx, id, fields)
		}, nil)
}

func (a *API) handleDeleteTherapist(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionDeleteTherapist, "therapistId", nil,
		func(ctx context.Context, id, _ string) (json.RawMessage, error) {
			return a.backend.DeleteTherapist(ctx, id)
		}, nil)
}

func (a *API) handleReviewTherapist(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	a.runProcedure(w, r, auth.ActionReviewTherapist, "therapistId", &req,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ReviewTherapist(ctx, id, adminID, strings.TrimSpace(req.Status))
		},
		func() map[string]any { return map[string]any{"notes": req.Notes, "status": req.Status} })
}

func (a *API) handleResolveTherapistEdit(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionResolveTherapistEdit, "therapistEditId", nil,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ResolveTherapistEdit(ctx, id, adminID)
		}, nil)
}

func (a *API) handleResolveProfileEdit(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionResolveProfileEdit, "profileEditId", nil,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ResolveProfileEdit(ctx, id, adminID)
		}, nil)
}

func (a *API) handleApproveTherapist(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	a.runProcedure(w, r, auth.ActionApproveTherapist, "therapistId", &req,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ApproveTherapist(ctx, id, adminID, req.Notes)
		},
		func() map[string]any { return map[string]any{"notes": req.Notes} })
}

func (a *API) handleRejectTherapist(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	a.runProcedure(w, r, auth.ActionRejectTherapist, "therapistId", &req,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.RejectTherapist(ctx, id, adminID, req.Reason)
		},
		func() map[string]any { return map[string]any{"reason": req.Reason} })
}

func (a *API) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionCancelSubscription, "subscriptionId", nil,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.CancelSubscription(ctx, id, adminID)
		}, nil)
}

func (a *API) handleActivateSubscription(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionActivateSubscription, "subscriptionId", nil,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ActivateSubscription(ctx, id, adminID)
		}, nil)
}

func (a *API) handleApproveVerification(w http.ResponseWriter, r *http.Request) {
	a.runProcedure(w, r, auth.ActionApproveVerification, "verificationId", nil,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ReviewVerification(ctx, id, adminID, true, "")
		}, nil)
}

func (a *API) handleRejectVerification(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	a.runProcedure(w, r, auth.ActionRejectVerification, "verificationId", &req,
		func(ctx context.Context, id, adminID string) (json.RawMessage, error) {
			return a.backend.ReviewVerification(ctx, id, adminID, false, req.Reason)
		},
		func() map[string]any { return map[string]any{"reason": req.Reason} })
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionViewUsers); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := a.accounts.GetUser(r.Context(), id)
	if err != nil {
		a.accountError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// guardAdminAccount allows changes to another admin's user account only for
// superadmins. An unreadable target role counts as an admin.
func (a *API) guardAdminAccount(w http.ResponseWriter, r *http.Request, caller *auth.AdminRow, userID string) bool {
	if userID == caller.UserID {
		return true
	}
	target, err := a.admins.ResolveRole(r.Context(), userID)
	if err != nil && !errors.Is(err, auth.ErrUnrecognizedRole) {
		a.storeError(w, r, err)
		return false
	}
	if target == nil && err == nil {
		return true
	}
	if caller.Role != auth.RoleSuperadmin || (target != nil && !auth.HasRequiredRole(caller.Role, target.Role)) {
		a.log.Warn("refused change to admin account",
			zap.String("admin_id", caller.ID), zap.String("target_user_id", userID))
		writeError(w, r, http.StatusForbidden, codeInsufficientPermissions,
			"access denied: only a superadmin may change an admin account")
		return false
	}
	return true
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.authorize(w, r, auth.ActionUpdateUser)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !a.guardAdminAccount(w, r, admin, id) {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if req.Email == nil && req.Password == nil && req.UserMetadata == nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "nothing to update")
		return
	}
	if req.Password != nil && utf8.RuneCountInString(*req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "password must be at least 8 characters")
		return
	}
	user, err := a.accounts.UpdateUser(r.Context(), id, identity.UserAttributes{
		Email:        req.Email,
		Password:     req.Password,
		UserMetadata: req.UserMetadata,
	})
	if err != nil {
		a.accountError(w, r, err)
		return
	}
	a.record(r.Context(), auth.ActionUpdateUser, admin, map[string]any{"userId": id})
	writeData(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.authorize(w, r, auth.ActionDeleteUser)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id == admin.UserID {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "cannot delete your own account")
		return
	}
	if !a.guardAdminAccount(w, r, admin, id) {
		return
	}
	if err := a.accounts.DeleteUser(r.Context(), id); err != nil {
		a.accountError(w, r, err)
		return
	}
	a.record(r.Context(), auth.ActionDeleteUser, admin, map[string]any{"userId": id})
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (a *API) accountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "user not found")
	case errors.Is(err, identity.ErrProvider):
		writeError(w, r, http.StatusBadRequest, codeBackend, err.Error())
	default:
		a.log.Error("account operation failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (a *API) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionViewUsers); !ok {
		return
	}
	admins, err := a.admins.ListAdmins(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, admins)
}

func (a *API) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.authorize(w, r, auth.ActionCreateAdmin)
	if !ok {
		return
	}
	var req createAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRole, "invalid admin role")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if _, err := uuid.Parse(userID); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "user_id must be a uuid")
		return
	}
	created, err := a.admins.CreateAdmin(r.Context(), auth.NewAdmin{
		UserID:      userID,
		Role:        role,
		Permissions: req.Permissions,
		CreatedBy:   admin.ID,
	})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.record(r.Context(), auth.ActionCreateAdmin, admin, map[string]any{
		"newAdminId": created.ID,
		"userId":     created.UserID,
		"role":       created.Role.String(),
	})
	w.Header().Set("Location", "/api/admins/"+created.ID)
	writeData(w, http.StatusCreated, created)
}

func (a *API) handleUpdateAdminRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.authorize(w, r, auth.ActionUpdateAdminRole)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRole, "invalid admin role")
		return
	}
	if id == admin.ID && role != admin.Role {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "cannot change your own role")
		return
	}
	updated, err := a.admins.UpdateAdminRole(r.Context(), id, role)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.record(r.Context(), auth.ActionUpdateAdminRole, admin, map[string]any{
		"targetAdminId": id,
		"role":          role.String(),
	})
	writeData(w, http.StatusOK, updated)
}

func (a *API) handleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.authorize(w, r, auth.ActionDeleteAdmin)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if id == admin.ID {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "cannot delete your own admin record")
		return
	}
	if err := a.admins.DeleteAdmin(r.Context(), id); err != nil {
		a.storeError(w, r, err)
		return
	}
	a.record(r.Context(), auth.ActionDeleteAdmin, admin, map[string]any{"targetAdminId": id})
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (a *API) handleListAdminActions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionViewLogs); !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	actions, err := a.admins.ListAdminActions(r.Context(), limit)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, actions)
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, codeConflict, "admin already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		a.log.Error("store call failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
