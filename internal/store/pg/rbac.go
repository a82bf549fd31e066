package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psiconnect/backoffice/internal/auth"
	"github.com/psiconnect/backoffice/internal/obs"
)

var _ auth.RoleResolver = (*Store)(nil)

const adminColumns = `id, user_id, role, permissions, created_at, created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

// ResolveRole loads the admin record for an identity. It returns (nil, nil)
// when the identity has no record and an error wrapping
// auth.ErrUnrecognizedRole when the stored role is outside the closed set.
func (s *Store) ResolveRole(ctx context.Context, userID string) (*auth.AdminRow, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: user id %q is not a uuid", auth.ErrInvalidInput, userID)
	}
	row := s.db.QueryRowContext(ctx, `select `+adminColumns+` from admins where user_id = $1`, userID)
	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &admin, nil
}

// ListAdmins returns every admin record. Rows whose stored role is outside the
// closed set are skipped and logged.
func (s *Store) ListAdmins(ctx context.Context) ([]auth.AdminRow, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+adminColumns+` from admins order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.AdminRow{}
	for rows.Next() {
		admin, err := scanAdmin(rows)
		if errors.Is(err, auth.ErrUnrecognizedRole) {
			obs.Logger().Warn("skipping admin with unrecognized role", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAdmin(ctx context.Context, in auth.NewAdmin) (auth.AdminRow, error) {
	if s.db == nil {
		return auth.AdminRow{}, errNoDB
	}
	if _, err := uuid.Parse(in.UserID); err != nil {
		return auth.AdminRow{}, fmt.Errorf("%w: user_id must be a uuid", auth.ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return auth.AdminRow{}, fmt.Errorf("%w: %s", auth.ErrInvalidInput, auth.ErrUnrecognizedRole)
	}
	perms, err := encodeJSON(in.Permissions)
	if err != nil {
		return auth.AdminRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into admins (id, user_id, role, permissions, created_by)
		values ($1, $2, $3, $4, $5)
		returning `+adminColumns,
		uuid.NewString(), in.UserID, in.Role.String(), perms, nullIfEmpty(in.CreatedBy))
	admin, err := scanAdmin(row)
	if err != nil {
		return auth.AdminRow{}, classify(err)
	}
	return admin, nil
}

func (s *Store) UpdateAdminRole(ctx context.Context, id string, role auth.Role) (auth.AdminRow, error) {
	if s.db == nil {
		return auth.AdminRow{}, errNoDB
	}
	if !role.Valid() {
		return auth.AdminRow{}, fmt.Errorf("%w: %s", auth.ErrInvalidInput, auth.ErrUnrecognizedRole)
	}
	row := s.db.QueryRowContext(ctx, `
		update admins set role = $2
		where id = $1
		returning `+adminColumns, id, role.String())
	admin, err := scanAdmin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AdminRow{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AdminRow{}, classify(err)
	}
	return admin, nil
}

func (s *Store) DeleteAdmin(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from admins where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanAdmin(row rowScanner) (auth.AdminRow, error) {
	var (
		admin     auth.AdminRow
		role      string
		rawPerms  []byte
		createdBy sql.NullString
	)
	if err := row.Scan(&admin.ID, &admin.UserID, &role, &rawPerms, &admin.CreatedAt, &createdBy); err != nil {
		return auth.AdminRow{}, err
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return auth.AdminRow{}, fmt.Errorf("admin %s: %w", admin.ID, err)
	}
	admin.Role = parsed
	admin.Permissions = decodePermissions(rawPerms)
	if createdBy.Valid {
		v := createdBy.String
		admin.CreatedBy = &v
	}
	return admin, nil
}

// decodePermissions keeps only entries explicitly set to true.
func decodePermissions(raw []byte) map[string]bool {
	perms := map[string]bool{}
	if len(raw) == 0 {
		return perms
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return perms
	}
	for k, v := range generic {
		if b, ok := v.(bool); ok && b && strings.TrimSpace(k) != "" {
			perms[k] = true
		}
	}
	return perms
}

// classify maps constraint violations onto auth sentinels.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return auth.ErrConflict
	case pgErrForeignKeyViolation:
		return auth.ErrNotFound
	case pgErrInvalidText:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, pgErr.Message)
	}
	return err
}
