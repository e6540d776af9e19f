package domain

import (
	"strings"
	"time"

	"github.com/vereinsportal/identity/internal/identity/rbac"
)

// Account is a local portal user. Email is unique and always stored
// lowercase; PasswordHash is empty for accounts that only ever signed in
// through Microsoft.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         rbac.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName is what the session shows as the signed in user.
func (a Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Email
	}
	return name
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitName splits a full name on the first run of whitespace into first and
// last name. "Anna Maria Schmidt" becomes "Anna" and "Maria Schmidt".
func SplitName(full string) (first, last string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
