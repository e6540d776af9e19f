package sqlite

import (
	"context"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, email, first_name, last_name, password_hash, role, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var (
		a                    domain.Account
		role                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &role, &createdAt, &updatedAt); err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Role = rbac.Role(role)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email))
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.FirstName, a.LastName, a.PasswordHash, string(a.Role),
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(time.Now()), accountID,
	))
}

func (r *accountsRepo) UpdateRole(ctx context.Context, accountID string, role rbac.Role) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), toMillis(time.Now()), accountID,
	))
}
