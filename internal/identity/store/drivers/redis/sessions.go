// Package redis keeps sessions in Redis so several portal instances can share
// them. Each session is a hash that expires on its own at the end of the
// absolute lifetime; idle expiry is enforced when the session is resumed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/store"
)

const (
	fieldAccountID    = "account_id"
	fieldRole         = "role"
	fieldDisplayName  = "display_name"
	fieldEmail        = "email"
	fieldAuthMethod   = "auth_method"
	fieldCSRFToken    = "csrf_token"
	fieldOAuthState   = "oauth_state"
	fieldCreatedAt    = "created_at"
	fieldLastActivity = "last_activity_at"
)

var (
	setFieldIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

	setCSRFIfEmpty = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local cur = redis.call('HGET', KEYS[1], 'csrf_token')
if cur and cur ~= '' then return 0 end
redis.call('HSET', KEYS[1], 'csrf_token', ARGV[1])
return 1
`)

	// KEYS[1] is the account index, ARGV[1] the session key prefix. Running
	// server side keeps a concurrent login from slipping between the read of
	// the index and its deletion.
	deleteIndexed = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

	setRoleIndexed = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
	local key = ARGV[1] .. id
	if redis.call('EXISTS', key) == 1 then
		redis.call('HSET', key, 'role', ARGV[2])
	else
		redis.call('SREM', KEYS[1], id)
	end
end
return #ids
`)

	takeOAuthState = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local s = redis.call('HGET', KEYS[1], 'oauth_state')
if not s then return '' end
if s ~= '' then redis.call('HSET', KEYS[1], 'oauth_state', '') end
return s
`)
)

// Sessions implements store.Sessions on a Redis client.
type Sessions struct {
	client      redis.UniversalClient
	prefix      string
	maxLifetime time.Duration
}

var _ store.Sessions = (*Sessions)(nil)

// NewSessions stores sessions under prefix. maxLifetime becomes the key TTL
// and must match the session service's absolute lifetime.
func NewSessions(client redis.UniversalClient, prefix string, maxLifetime time.Duration) *Sessions {
	if prefix == "" {
		prefix = "identity"
	}
	return &Sessions{client: client, prefix: prefix, maxLifetime: maxLifetime}
}

func (s *Sessions) sessionPrefix() string       { return s.prefix + ":session:" }
func (s *Sessions) sessionKey(id string) string { return s.sessionPrefix() + id }

func (s *Sessions) accountKey(accountID string) string {
	return s.prefix + ":account_sessions:" + accountID
}

func (s *Sessions) CreateSession(ctx context.Context, sess domain.Session) error {
	role := sess.Role
	if role == "" {
		role = rbac.RoleNone
	}

	key := s.sessionKey(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldAccountID, sess.AccountID,
			fieldRole, string(role),
			fieldDisplayName, sess.DisplayName,
			fieldEmail, sess.Email,
			fieldAuthMethod, string(sess.AuthMethod),
			fieldCSRFToken, sess.CSRFToken,
			fieldOAuthState, sess.OAuthState,
			fieldCreatedAt, strconv.FormatInt(sess.CreatedAt.UnixMilli(), 10),
			fieldLastActivity, strconv.FormatInt(sess.LastActivityAt.UnixMilli(), 10),
		)
		if s.maxLifetime > 0 {
			pipe.PExpireAt(ctx, key, sess.CreatedAt.Add(s.maxLifetime))
		}
		if sess.AccountID != "" {
			idx := s.accountKey(sess.AccountID)
			pipe.SAdd(ctx, idx, sess.ID)
			if s.maxLifetime > 0 {
				pipe.PExpire(ctx, idx, s.maxLifetime)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Sessions) GetSession(ctx context.Context, id string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, store.ErrNotFound
	}

	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: created_at: %w", err)
	}
	lastActivity, err := strconv.ParseInt(fields[fieldLastActivity], 10, 64)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: last_activity_at: %w", err)
	}

	return domain.Session{
		ID:             id,
		AccountID:      fields[fieldAccountID],
		Role:           rbac.Role(fields[fieldRole]),
		DisplayName:    fields[fieldDisplayName],
		Email:          fields[fieldEmail],
		AuthMethod:     domain.AuthMethod(fields[fieldAuthMethod]),
		CSRFToken:      fields[fieldCSRFToken],
		OAuthState:     fields[fieldOAuthState],
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
		LastActivityAt: time.UnixMilli(lastActivity).UTC(),
	}, nil
}

func (s *Sessions) DeleteSession(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	accountID, err := s.client.HGet(ctx, key, fieldAccountID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if accountID != "" {
			pipe.SRem(ctx, s.accountKey(accountID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Sessions) DeleteAccountSessions(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	err := deleteIndexed.Run(ctx, s.client, []string{s.accountKey(accountID)}, s.sessionPrefix()).Err()
	if err != nil {
		return fmt.Errorf("delete account sessions: %w", err)
	}
	return nil
}

func (s *Sessions) setField(ctx context.Context, id, field, value string) (bool, error) {
	n, err := setFieldIfExists.Run(ctx, s.client, []string{s.sessionKey(id)}, field, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Sessions) setExistingField(ctx context.Context, id, field, value string) error {
	ok, err := s.setField(ctx, id, field, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Sessions) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.setExistingField(ctx, id, fieldLastActivity, strconv.FormatInt(at.UnixMilli(), 10))
}

func (s *Sessions) SetCSRFTokenIfEmpty(ctx context.Context, id, token string) (bool, error) {
	n, err := setCSRFIfEmpty.Run(ctx, s.client, []string{s.sessionKey(id)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("set csrf token: %w", err)
	}
	return n == 1, nil
}

func (s *Sessions) SetCSRFToken(ctx context.Context, id, token string) error {
	return s.setExistingField(ctx, id, fieldCSRFToken, token)
}

func (s *Sessions) SetOAuthState(ctx context.Context, id, state string) error {
	return s.setExistingField(ctx, id, fieldOAuthState, state)
}

func (s *Sessions) TakeOAuthState(ctx context.Context, id string) (string, error) {
	state, err := takeOAuthState.Run(ctx, s.client, []string{s.sessionKey(id)}).Text()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take oauth state: %w", err)
	}
	return state, nil
}

func (s *Sessions) UpdateAccountRole(ctx context.Context, accountID string, role rbac.Role) error {
	if accountID == "" {
		return nil
	}
	// Index entries whose session expired by TTL are dropped on the way.
	err := setRoleIndexed.Run(ctx, s.client, []string{s.accountKey(accountID)}, s.sessionPrefix(), string(role)).Err()
	if err != nil {
		return fmt.Errorf("update account role: %w", err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op: key TTLs remove sessions past their
// absolute lifetime and idle sessions are deleted when next resumed.
func (s *Sessions) DeleteExpiredSessions(ctx context.Context, createdBefore, activeBefore time.Time) (int64, error) {
	return 0, nil
}

func (s *Sessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
