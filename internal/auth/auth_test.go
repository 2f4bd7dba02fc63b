package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ifsports/calendar-service/internal/apperr"
	"github.com/ifsports/calendar-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// memoryStore is an in-memory CredentialStore that records every save.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]store.Credential
	saves   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]store.Credential{}}
}

func (m *memoryStore) Load(_ context.Context, email string) (*store.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.records[email]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *memoryStore) Save(_ context.Context, cred store.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[cred.UserEmail] = cred
	m.saves++
	return nil
}

func (m *memoryStore) put(t *testing.T, email string, token *oauth2.Token) {
	t.Helper()
	blob, err := encodeToken(token, []string{"https://www.googleapis.com/auth/calendar"})
	require.NoError(t, err)
	m.records[email] = store.Credential{UserEmail: email, TokenJSON: blob}
}

func (m *memoryStore) token(t *testing.T, email string) *oauth2.Token {
	t.Helper()
	cred, ok := m.records[email]
	require.True(t, ok, "no record for %s", email)
	token, _, err := decodeToken(cred.TokenJSON)
	require.NoError(t, err)
	return token
}

// tokenServer fakes the provider token endpoint.
type tokenServer struct {
	*httptest.Server
	exchanges   atomic.Int32
	refreshes   atomic.Int32
	status      int
	omitRefresh bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
			return
		}

		body := map[string]any{"token_type": "Bearer", "expires_in": 3600}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			n := ts.exchanges.Add(1)
			body["access_token"] = fmt.Sprintf("access-%d", n)
			body["scope"] = "https://www.googleapis.com/auth/calendar"
			if !ts.omitRefresh {
				body["refresh_token"] = "refresh-from-exchange"
			}
		case "refresh_token":
			n := ts.refreshes.Add(1)
			body["access_token"] = fmt.Sprintf("refreshed-%d", n)
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) calls() int32 {
	return ts.exchanges.Load() + ts.refreshes.Load()
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8012/api/v1/calendar/auth/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.google.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memoryStore, *tokenServer) {
	t.Helper()
	ts := newTokenServer(t)
	credentials := newMemoryStore()
	return NewManager(testOAuthConfig(ts.URL), credentials, log.New(io.Discard)), credentials, ts
}

func TestAuthorizationURL(t *testing.T) {
	manager, credentials, ts := newTestManager(t)

	authURL, err := manager.AuthorizationURL(" Ana@Example.com ")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "ana@example.com", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.Equal(t, "https://www.googleapis.com/auth/calendar", q.Get("scope"))
	assert.Equal(t, "http://localhost:8012/api/v1/calendar/auth/callback", q.Get("redirect_uri"))

	assert.Zero(t, credentials.saves, "authorization URL must not touch the store")
	assert.Zero(t, ts.calls())
}

func TestAuthorizationURL_NotConfigured(t *testing.T) {
	manager := NewManager(nil, newMemoryStore(), log.New(io.Discard))

	_, err := manager.AuthorizationURL("ana@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestAuthorizationURL_EmptyEmail(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.AuthorizationURL("  ")
	assert.True(t, apperr.IsBadInput(err))
}

func TestExchangeThenLoad(t *testing.T) {
	ctx := context.Background()
	manager, credentials, ts := newTestManager(t)

	require.NoError(t, manager.Exchange(ctx, "code-1", "ana@example.com"))
	assert.Equal(t, 1, credentials.saves)

	result, err := manager.Load(ctx, "ana@example.com")
	require.NoError(t, err)
	require.True(t, result.Authenticated())
	assert.False(t, result.Refreshed)
	assert.Equal(t, "access-1", result.Token.AccessToken)
	assert.Equal(t, "refresh-from-exchange", result.Token.RefreshToken)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, result.Scopes)

	assert.EqualValues(t, 1, ts.exchanges.Load())
	assert.Zero(t, ts.refreshes.Load())
}

func TestExchange_InvalidCode(t *testing.T) {
	manager, credentials, ts := newTestManager(t)
	ts.status = http.StatusBadRequest

	err := manager.Exchange(context.Background(), "used-code", "ana@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsAuthExchange(err))
	assert.Zero(t, credentials.saves)
}

func TestExchange_MissingCode(t *testing.T) {
	manager, _, ts := newTestManager(t)

	err := manager.Exchange(context.Background(), "", "ana@example.com")
	assert.True(t, apperr.IsAuthExchange(err))
	assert.Zero(t, ts.calls())
}

func TestExchange_KeepsPreviousRefreshToken(t *testing.T) {
	ctx := context.Background()
	manager, credentials, ts := newTestManager(t)
	credentials.put(t, "ana@example.com", &oauth2.Token{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	})
	ts.omitRefresh = true

	require.NoError(t, manager.Exchange(ctx, "code-2", "ana@example.com"))

	stored := credentials.token(t, "ana@example.com")
	assert.Equal(t, "access-1", stored.AccessToken)
	assert.Equal(t, "old-refresh", stored.RefreshToken)
}

func TestExchange_OverwritesRecord(t *testing.T) {
	ctx := context.Background()
	manager, credentials, _ := newTestManager(t)

	require.NoError(t, manager.Exchange(ctx, "code-1", "ana@example.com"))
	require.NoError(t, manager.Exchange(ctx, "code-2", "ANA@example.com"))

	assert.Len(t, credentials.records, 1)
	assert.Equal(t, "access-2", credentials.token(t, "ana@example.com").AccessToken)
}

func TestLoad_NoRecord(t *testing.T) {
	manager, _, ts := newTestManager(t)

	result, err := manager.Load(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, result.Authenticated())
	assert.Equal(t, ReasonNoCredentials, result.Reason)
	assert.Nil(t, result.Token)
	assert.Zero(t, ts.calls())
}

func TestLoad_ExpiredWithRefreshRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	manager, credentials, ts := newTestManager(t)
	credentials.put(t, "ana@example.com", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})

	result, err := manager.Load(ctx, "ana@example.com")
	require.NoError(t, err)
	require.True(t, result.Authenticated())
	assert.True(t, result.Refreshed)
	assert.Equal(t, "refreshed-1", result.Token.AccessToken)
	assert.EqualValues(t, 1, ts.refreshes.Load())

	// The refreshed blob is persisted before Load returns
	stored := credentials.token(t, "ana@example.com")
	assert.Equal(t, "refreshed-1", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
	assert.True(t, stored.Expiry.After(time.Now()))

	second, err := manager.Load(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, second.Refreshed)
	assert.Equal(t, "refreshed-1", second.Token.AccessToken)
	assert.EqualValues(t, 1, ts.refreshes.Load())
}

func TestLoad_ExpiredWithoutRefreshMakesNoCall(t *testing.T) {
	manager, credentials, ts := newTestManager(t)
	credentials.put(t, "ana@example.com", &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	})

	result, err := manager.Load(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.False(t, result.Authenticated())
	assert.Equal(t, ReasonExpiredNoRefresh, result.Reason)
	assert.Zero(t, ts.calls())

	_, err = manager.Require(context.Background(), "ana@example.com")
	assert.True(t, apperr.IsAuthRequired(err))
	assert.Zero(t, ts.calls())
}

func TestLoad_RefreshRejected(t *testing.T) {
	manager, credentials, ts := newTestManager(t)
	credentials.put(t, "ana@example.com", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	})
	ts.status = http.StatusBadRequest

	result, err := manager.Load(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.False(t, result.Authenticated())
	assert.Equal(t, ReasonRefreshRejected, result.Reason)

	_, err = manager.Require(context.Background(), "ana@example.com")
	assert.True(t, apperr.IsAuthRequired(err))
}

func TestLoad_RefreshProviderOutage(t *testing.T) {
	manager, credentials, ts := newTestManager(t)
	credentials.put(t, "ana@example.com", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})
	ts.status = http.StatusServiceUnavailable

	_, err := manager.Load(context.Background(), "ana@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsRemoteProvider(err))
	assert.Equal(t, "stale", credentials.token(t, "ana@example.com").AccessToken)
}

func TestLoad_CorruptRecord(t *testing.T) {
	manager, credentials, _ := newTestManager(t)
	credentials.records["ana@example.com"] = store.Credential{UserEmail: "ana@example.com", TokenJSON: "not json"}

	_, err := manager.Load(context.Background(), "ana@example.com")
	require.Error(t, err)
	assert.False(t, apperr.IsAuthRequired(err))
}

func TestHTTPClient_PersistsTokenRefreshedInUse(t *testing.T) {
	ctx := context.Background()
	manager, credentials, ts := newTestManager(t)

	var seen string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	creds := LoadResult{
		Status: StatusAuthenticated,
		Email:  "ana@example.com",
		Token: &oauth2.Token{
			AccessToken:  "about-to-expire",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(-time.Second),
		},
		Scopes: []string{"https://www.googleapis.com/auth/calendar"},
	}

	resp, err := manager.HTTPClient(ctx, creds).Get(api.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer refreshed-1", seen)
	assert.EqualValues(t, 1, ts.refreshes.Load())
	assert.Equal(t, "refreshed-1", credentials.token(t, "ana@example.com").AccessToken)
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name  string
		token *oauth2.Token
		want  TokenState
	}{
		{name: "nil", token: nil, want: TokenExpiredNoRefresh},
		{name: "valid", token: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}, want: TokenValid},
		{name: "no expiry", token: &oauth2.Token{AccessToken: "a"}, want: TokenValid},
		{name: "expired with refresh", token: &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}, want: TokenExpiredRefreshable},
		{name: "empty access with refresh", token: &oauth2.Token{RefreshToken: "r"}, want: TokenExpiredRefreshable},
		{name: "expired without refresh", token: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)}, want: TokenExpiredNoRefresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StateOf(tt.token))
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	expiry := time.Date(2025, 9, 15, 22, 0, 0, 0, time.UTC)
	blob, err := encodeToken(&oauth2.Token{
		AccessToken:  "a",
		TokenType:    "Bearer",
		RefreshToken: "r",
		Expiry:       expiry,
	}, []string{"scope-a"})
	require.NoError(t, err)

	token, scopes, err := decodeToken(blob)
	require.NoError(t, err)
	assert.Equal(t, "a", token.AccessToken)
	assert.Equal(t, "r", token.RefreshToken)
	assert.True(t, token.Expiry.Equal(expiry))
	assert.Equal(t, []string{"scope-a"}, scopes)

	_, _, err = decodeToken("")
	assert.Error(t, err)
}

func TestCodec_ZeroExpiry(t *testing.T) {
	blob, err := encodeToken(&oauth2.Token{AccessToken: "a", TokenType: "Bearer"}, nil)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(blob), &raw))
	assert.Contains(t, raw, "expiry")

	token, _, err := decodeToken(blob)
	require.NoError(t, err)
	assert.True(t, token.Expiry.IsZero())
	assert.True(t, token.Valid())
}
