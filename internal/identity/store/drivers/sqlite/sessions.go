package sqlite

import (
	"context"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

type sessionsRepo struct {
	db   dbtx
	ping func(context.Context) error
}

const sessionColumns = `id, account_id, role, display_name, email, auth_method, csrf_token, oauth_state, created_at, last_activity_at`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	role := s.Role
	if role == "" {
		role = rbac.RoleNone
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, string(role), s.DisplayName, s.Email, string(s.AuthMethod),
		s.CSRFToken, s.OAuthState, toMillis(s.CreatedAt), toMillis(s.LastActivityAt),
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var (
		s                       domain.Session
		role, method            string
		createdAt, lastActivity int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.AccountID, &role, &s.DisplayName, &s.Email, &method,
		&s.CSRFToken, &s.OAuthState, &createdAt, &lastActivity)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.Role = rbac.Role(role)
	s.AuthMethod = domain.AuthMethod(method)
	s.CreatedAt = fromMillis(createdAt)
	s.LastActivityAt = fromMillis(lastActivity)
	return s, nil
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteAccountSessions(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	return err
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`, toMillis(at), id))
}

func (r *sessionsRepo) SetCSRFTokenIfEmpty(ctx context.Context, id, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET csrf_token = ? WHERE id = ? AND csrf_token = ''`, token, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sessionsRepo) SetCSRFToken(ctx context.Context, id, token string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE sessions SET csrf_token = ? WHERE id = ?`, token, id))
}

func (r *sessionsRepo) SetOAuthState(ctx context.Context, id, state string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE sessions SET oauth_state = ? WHERE id = ?`, state, id))
}

func (r *sessionsRepo) TakeOAuthState(ctx context.Context, id string) (string, error) {
	var state string
	err := r.db.QueryRowContext(ctx,
		`SELECT oauth_state FROM sessions WHERE id = ?`, id).Scan(&state)
	if err != nil {
		return "", mapNotFound(err)
	}
	if state == "" {
		return "", nil
	}

	// Only the caller whose compare-and-clear matches gets the state.
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET oauth_state = '' WHERE id = ? AND oauth_state = ?`, id, state)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	return state, nil
}

func (r *sessionsRepo) UpdateAccountRole(ctx context.Context, accountID string, role rbac.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET role = ? WHERE account_id = ? AND account_id <> ''`, string(role), accountID)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, createdBefore, activeBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE created_at < ? OR last_activity_at < ?`,
		toMillis(createdBefore), toMillis(activeBefore),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) Ping(ctx context.Context) error {
	return r.ping(ctx)
}
