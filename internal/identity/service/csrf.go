package service

import (
	"context"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/cryptox"
)

// CSRFService manages the per session synchroniser token.
type CSRFService struct {
	Sessions store.Sessions
}

// Issue returns the session's token, creating one if it has none. Concurrent
// callers on the same session all end up with the same token.
func (s *CSRFService) Issue(ctx context.Context, sess *domain.Session) (string, error) {
	if sess.CSRFToken != "" {
		return sess.CSRFToken, nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	stored, err := s.Sessions.SetCSRFTokenIfEmpty(ctx, sess.ID, token)
	if err != nil {
		return "", err
	}
	if !stored {
		// Someone else won; use theirs.
		current, err := s.Sessions.GetSession(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		token = current.CSRFToken
	}

	sess.CSRFToken = token
	return token, nil
}

// Verify compares candidate with the session's token in constant time.
func (s *CSRFService) Verify(sess domain.Session, candidate string) bool {
	return cryptox.TokensEqual(sess.CSRFToken, candidate)
}

// Rotate replaces the session's token.
func (s *CSRFService) Rotate(ctx context.Context, sess *domain.Session) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	if err := s.Sessions.SetCSRFToken(ctx, sess.ID, token); err != nil {
		return "", err
	}
	sess.CSRFToken = token
	return token, nil
}
