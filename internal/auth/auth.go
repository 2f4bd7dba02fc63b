// Package auth owns the OAuth token lifecycle: authorization URLs, code exchange,
// refresh-on-read and persistence of refreshed tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ifsports/calendar-service/internal/store"
	"golang.org/x/oauth2"
)

// CredentialStore is the subset of store.CredentialStore the manager needs.
type CredentialStore interface {
	Load(ctx context.Context, email string) (*store.Credential, error)
	Save(ctx context.Context, cred store.Credential) error
}

// TokenState classifies a stored token before it is used.
type TokenState int

const (
	TokenValid TokenState = iota
	TokenExpiredRefreshable
	TokenExpiredNoRefresh
)

func (s TokenState) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpiredRefreshable:
		return "expired-with-refresh"
	case TokenExpiredNoRefresh:
		return "expired-without-refresh"
	}
	return "unknown"
}

// StateOf reports the lifecycle state of token.
// A token without an access token counts as expired.
func StateOf(token *oauth2.Token) TokenState {
	if token != nil && token.Valid() {
		return TokenValid
	}
	if token != nil && token.RefreshToken != "" {
		return TokenExpiredRefreshable
	}
	return TokenExpiredNoRefresh
}

// NormalizeEmail returns the store key for email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	mu        sync.Mutex
	source    oauth2.TokenSource
	save      func(*oauth2.Token) error
	lastToken *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	// Check if the token was refreshed by comparing access tokens
	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.save(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}

// HTTPClient returns an authenticated HTTP client for a loaded credential.
// Tokens refreshed while the client is in use are written back to the store.
func (m *Manager) HTTPClient(ctx context.Context, creds LoadResult) *http.Client {
	if m.oauth == nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(creds.Token))
	}

	tokenSource := m.oauth.TokenSource(ctx, creds.Token)
	autoSaveSource := &autoSaveTokenSource{
		source: oauth2.ReuseTokenSource(creds.Token, tokenSource),
		save: func(token *oauth2.Token) error {
			return m.persist(ctx, creds.Email, token, creds.Scopes)
		},
		lastToken: creds.Token,
	}

	return oauth2.NewClient(ctx, autoSaveSource)
}
