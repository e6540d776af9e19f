package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

type invitationsRepo struct {
	db dbtx
}

const invitationColumns = `id, email, role, token_hash, created_by, created_at, expires_at, consumed_at, account_id`

func scanInvitation(row interface{ Scan(...any) error }) (domain.Invitation, error) {
	var (
		inv                  domain.Invitation
		role                 string
		createdAt, expiresAt int64
		consumedAt           sql.NullInt64
		accountID            sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.Email, &role, &inv.TokenHash, &inv.CreatedBy,
		&createdAt, &expiresAt, &consumedAt, &accountID)
	if err != nil {
		return domain.Invitation{}, mapNotFound(err)
	}
	inv.Role = rbac.Role(role)
	inv.CreatedAt = fromMillis(createdAt)
	inv.ExpiresAt = fromMillis(expiresAt)
	inv.ConsumedAt = mapNullMillisPtr(consumedAt)
	inv.AccountID = accountID.String
	return inv, nil
}

func (r *invitationsRepo) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, email, role, token_hash, created_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Email, string(inv.Role), inv.TokenHash, inv.CreatedBy,
		toMillis(inv.CreatedAt), toMillis(inv.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *invitationsRepo) GetInvitationByTokenHash(ctx context.Context, hash string) (domain.Invitation, error) {
	return scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = ?`, hash))
}

func (r *invitationsRepo) GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error) {
	return scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id))
}

func (r *invitationsRepo) ListInvitations(ctx context.Context, limit, offset int) ([]domain.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *invitationsRepo) ConsumeInvitation(ctx context.Context, hash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET consumed_at = ?
		 WHERE token_hash = ? AND consumed_at IS NULL AND expires_at > ?`,
		toMillis(now), hash, toMillis(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *invitationsRepo) LinkInvitationAccount(ctx context.Context, invitationID, accountID string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE invitations SET account_id = ? WHERE id = ?`,
		mapStringNull(accountID), invitationID,
	))
}

func (r *invitationsRepo) DeleteUnconsumedInvitation(ctx context.Context, id string, now time.Time) error {
	return requireRow(r.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE id = ? AND consumed_at IS NULL AND expires_at > ?`,
		id, toMillis(now),
	))
}
