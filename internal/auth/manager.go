package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ifsports/calendar-service/internal/apperr"
	"github.com/ifsports/calendar-service/internal/store"
	"golang.org/x/oauth2"
)

// LoadStatus separates an expected "not authenticated" outcome from usable credentials.
type LoadStatus int

const (
	StatusAuthenticated LoadStatus = iota
	StatusNotAuthenticated
)

// Reasons reported with StatusNotAuthenticated.
const (
	ReasonNoCredentials    = "no_credentials"
	ReasonExpiredNoRefresh = "expired_no_refresh_token"
	ReasonRefreshRejected  = "refresh_rejected"
)

// LoadResult is the outcome of Manager.Load.
type LoadResult struct {
	Status    LoadStatus
	Reason    string
	Email     string
	Token     *oauth2.Token
	Scopes    []string
	Refreshed bool
}

func (r LoadResult) Authenticated() bool {
	return r.Status == StatusAuthenticated
}

// Manager exchanges, loads and refreshes per-user tokens.
type Manager struct {
	oauth  *oauth2.Config
	store  CredentialStore
	logger *log.Logger
}

// NewManager creates a Manager. A nil oauthConfig is allowed; every provider
// operation then fails with a configuration error.
func NewManager(oauthConfig *oauth2.Config, credentials CredentialStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		oauth:  oauthConfig,
		store:  credentials,
		logger: logger.WithPrefix("auth"),
	}
}

func (m *Manager) ready() error {
	if m.oauth == nil || m.oauth.ClientID == "" {
		return apperr.Configuration(nil, "google oauth client is not configured")
	}
	return nil
}

// AuthorizationURL builds the consent URL carrying email as the OAuth state.
// Offline access and forced consent make the provider issue a refresh token.
func (m *Manager) AuthorizationURL(email string) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	email = NormalizeEmail(email)
	if email == "" {
		return "", apperr.BadInput("user_email is required", nil)
	}
	return m.oauth.AuthCodeURL(email, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for tokens and upserts the user's record.
func (m *Manager) Exchange(ctx context.Context, code, email string) error {
	if err := m.ready(); err != nil {
		return err
	}
	email = NormalizeEmail(email)
	if email == "" {
		return apperr.BadInput("user_email is required", nil)
	}
	if code == "" {
		return apperr.AuthExchange(nil, "authorization code is required")
	}

	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		m.logger.Warn("code exchange failed", "email", email, "err", err)
		return apperr.AuthExchange(err, "failed to exchange authorization code")
	}

	// The provider may omit the refresh token on re-authorization; keep the stored one.
	if token.RefreshToken == "" {
		if previous, err := m.store.Load(ctx, email); err == nil && previous != nil {
			if prevToken, _, err := decodeToken(previous.TokenJSON); err == nil {
				token.RefreshToken = prevToken.RefreshToken
			}
		}
	}

	if err := m.persist(ctx, email, token, grantedScopes(token, m.oauth.Scopes)); err != nil {
		return err
	}

	m.logger.Info("stored credentials", "email", email, "refreshable", token.RefreshToken != "")
	return nil
}

// Load fetches the user's token, refreshing and persisting it first when it has expired.
// A missing or unusable credential is reported through LoadResult, not the error.
func (m *Manager) Load(ctx context.Context, email string) (LoadResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return LoadResult{}, apperr.BadInput("user_email is required", nil)
	}

	record, err := m.store.Load(ctx, email)
	if err != nil {
		return LoadResult{}, apperr.Internal(err, "failed to load credentials")
	}
	if record == nil {
		return notAuthenticated(email, ReasonNoCredentials), nil
	}

	token, scopes, err := decodeToken(record.TokenJSON)
	if err != nil {
		return LoadResult{}, apperr.Internal(err, "stored credentials are unreadable")
	}

	result := LoadResult{Status: StatusAuthenticated, Email: email, Token: token, Scopes: scopes}

	switch StateOf(token) {
	case TokenValid:
		return result, nil
	case TokenExpiredNoRefresh:
		return notAuthenticated(email, ReasonExpiredNoRefresh), nil
	}

	if err := m.ready(); err != nil {
		return LoadResult{}, err
	}

	refreshed, err := m.oauth.TokenSource(ctx, token).Token()
	if err != nil {
		if rejectedByProvider(err) {
			m.logger.Warn("refresh rejected", "email", email, "err", err)
			return notAuthenticated(email, ReasonRefreshRejected), nil
		}
		return LoadResult{}, apperr.RemoteProvider(err, "failed to refresh access token", nil)
	}

	scopes = grantedScopes(refreshed, scopes)
	// Persist before handing the token to any caller
	if err := m.persist(ctx, email, refreshed, scopes); err != nil {
		return LoadResult{}, err
	}
	m.logger.Debug("refreshed access token", "email", email, "expiry", refreshed.Expiry)

	result.Token = refreshed
	result.Scopes = scopes
	result.Refreshed = true
	return result, nil
}

// Require is Load for callers that cannot proceed without credentials.
func (m *Manager) Require(ctx context.Context, email string) (LoadResult, error) {
	result, err := m.Load(ctx, email)
	if err != nil {
		return LoadResult{}, err
	}
	if !result.Authenticated() {
		return LoadResult{}, apperr.AuthRequired(
			"user is not authenticated, start the authorization flow first",
			map[string]any{"user_email": result.Email, "reason": result.Reason},
		)
	}
	return result, nil
}

func (m *Manager) persist(ctx context.Context, email string, token *oauth2.Token, scopes []string) error {
	blob, err := encodeToken(token, scopes)
	if err != nil {
		return apperr.Internal(err, "failed to serialize credentials")
	}
	err = m.store.Save(ctx, store.Credential{
		UserEmail: email,
		TokenJSON: blob,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return apperr.Internal(err, "failed to save credentials")
	}
	return nil
}

func notAuthenticated(email, reason string) LoadResult {
	return LoadResult{Status: StatusNotAuthenticated, Reason: reason, Email: email}
}

// rejectedByProvider reports a 4xx answer from the token endpoint, e.g. invalid_grant.
func rejectedByProvider(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.Response == nil {
		return false
	}
	code := retrieveErr.Response.StatusCode
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
