package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

const callbackURL = "https://gateway.example.com/auth/callback"

func oauth2Integration(tokenURL string) domain.Integration {
	return domain.Integration{
		ID:       "github",
		AuthType: domain.AuthTypeOAuth2,
		OAuth2: &domain.OAuth2Config{
			AuthorizationURL: "https://provider.example/authorize",
			TokenURL:         tokenURL,
			Scope:            []string{"repo"},
		},
		Request: domain.RequestConfig{BaseURL: "https://api.provider.example/"},
	}
}

func newAuthService(t *testing.T, integration domain.Integration, configs *memoryConfigRepo, auths *memoryAuthRepo, sessions *memorySessionStore) service.AuthService {
	t.Helper()
	return service.NewAuthService(
		newTestRegistry(t, integration),
		configs,
		auths,
		sessions,
		oauth.NewOAuth1Client(nil),
		oauth.NewOAuth2Client(nil),
		callbackURL,
		10*time.Minute,
		zap.NewNop(),
	)
}

func githubConfig() *memoryConfigRepo {
	return &memoryConfigRepo{configs: []domain.Configuration{{
		Buid:        "github",
		SetupID:     "setup-1",
		Credentials: domain.Credentials{ClientID: "c1", ClientSecret: "s1"},
		Scopes:      []string{"repo", "user"},
		UpdatedAt:   time.Now(),
	}}}
}

func TestConnectOAuth2Redirect(t *testing.T) {
	sessions := newMemorySessionStore()
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), newMemoryAuthRepo(), sessions)

	result, err := svc.Connect(context.Background(), service.ConnectInput{
		Buid:          "github",
		ConnectParams: map[string]string{"subdomain": "acme"},
	})
	require.NoError(t, err)
	require.False(t, result.Completed)
	require.NotEmpty(t, result.SessionID)

	u, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "provider.example", u.Host)
	require.Equal(t, "c1", u.Query().Get("client_id"))
	require.Equal(t, "repo user", u.Query().Get("scope"))
	require.Equal(t, callbackURL, u.Query().Get("redirect_uri"))

	session, ok := sessions.sessions[result.SessionID]
	require.True(t, ok)
	require.Equal(t, "github", session.Buid)
	require.Equal(t, "setup-1", session.SetupID)
	require.Equal(t, map[string]string{"subdomain": "acme"}, session.ConnectParams)
	require.NotEmpty(t, session.AuthID)
}

func TestConnectUnknownIntegration(t *testing.T) {
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), newMemoryAuthRepo(), newMemorySessionStore())

	_, err := svc.Connect(context.Background(), service.ConnectInput{Buid: "gitlab"})
	requireGatewayError(t, err, "UNKNOWN_INTEGRATION", http.StatusNotFound)
}

func TestConnectInvalidConnectParam(t *testing.T) {
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), newMemoryAuthRepo(), newMemorySessionStore())

	_, err := svc.Connect(context.Background(), service.ConnectInput{
		Buid:          "github",
		ConnectParams: map[string]string{"subdomain": "acme;drop"},
	})
	requireGatewayError(t, err, "INVALID_CONNECT_PARAM", http.StatusBadRequest)
}

func TestConnectWithoutCredentials(t *testing.T) {
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), &memoryConfigRepo{}, newMemoryAuthRepo(), newMemorySessionStore())

	_, err := svc.Connect(context.Background(), service.ConnectInput{Buid: "github"})
	requireGatewayError(t, err, "CREDENTIALS_NOT_CONFIGURED", http.StatusUnprocessableEntity)
}

func TestConnectClientCredentialsCompletesImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-tok","expires_in":1800}`))
	}))
	defer server.Close()

	integration := oauth2Integration(server.URL)
	integration.OAuth2.GrantType = domain.GrantTypeClientCredentials
	auths := newMemoryAuthRepo()
	svc := newAuthService(t, integration, githubConfig(), auths, newMemorySessionStore())

	result, err := svc.Connect(context.Background(), service.ConnectInput{Buid: "github"})
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.NotEmpty(t, result.AuthID)

	auth, err := auths.Get(context.Background(), "github", result.AuthID)
	require.NoError(t, err)
	require.Equal(t, "cc-tok", auth.Payload.AccessToken)
	require.Equal(t, domain.NoValue, auth.Payload.RefreshToken)
	require.Equal(t, int64(1800), auth.Payload.ExpiresIn)
}

func TestCallbackExchangesCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, callbackURL, r.PostForm.Get("redirect_uri"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","refresh_token":"ref1","expires_in":3600,"instance_url":"https://acme.example"}`))
	}))
	defer server.Close()

	sessions := newMemorySessionStore()
	sessions.sessions["sess-1"] = domain.ConnectSession{
		Buid:          "github",
		SetupID:       "setup-1",
		AuthID:        "auth-1",
		ConnectParams: map[string]string{"subdomain": "acme"},
	}
	auths := newMemoryAuthRepo()
	svc := newAuthService(t, oauth2Integration(server.URL), githubConfig(), auths, sessions)

	result, err := svc.Callback(context.Background(), "sess-1", url.Values{
		"code":  {"the-code"},
		"state": {"sess-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "auth-1", result.AuthID)

	auth, err := auths.Get(context.Background(), "github", "auth-1")
	require.NoError(t, err)
	require.Equal(t, "tok1", auth.Payload.AccessToken)
	require.Equal(t, "ref1", auth.Payload.RefreshToken)
	require.Equal(t, int64(3600), auth.Payload.ExpiresIn)
	require.Equal(t, "c1", auth.Payload.ClientID)
	require.Equal(t, "github", auth.Payload.ServiceName)
	require.Equal(t, map[string]string{"subdomain": "acme"}, auth.Payload.ConnectParams)
	require.Contains(t, auth.Payload.TokenResponseJSON, "instance_url")
	require.Contains(t, auth.Payload.CallbackParamsJSON, "the-code")

	// the session is single use
	require.Contains(t, sessions.deleted, "sess-1")
}

func TestCallbackDefinitionLostOAuthBlock(t *testing.T) {
	// The definition can be reloaded between connect and callback; a
	// missing protocol block must fail the request, not panic it.
	integration := oauth2Integration("https://provider.example/token")
	integration.OAuth2 = nil
	sessions := newMemorySessionStore()
	sessions.sessions["sess-1"] = domain.ConnectSession{
		Buid:      "github",
		SetupID:   "setup-1",
		AuthID:    "auth-1",
		CreatedAt: time.Now(),
	}
	svc := newAuthService(t, integration, githubConfig(), newMemoryAuthRepo(), sessions)

	_, err := svc.Callback(context.Background(), "sess-1", url.Values{"code": {"the-code"}})
	requireGatewayError(t, err, "INVALID_API_CONFIG", http.StatusUnprocessableEntity)

	oauth1 := integration
	oauth1.AuthType = domain.AuthTypeOAuth1
	sessions = newMemorySessionStore()
	sessions.sessions["sess-2"] = domain.ConnectSession{
		Buid:      "github",
		SetupID:   "setup-1",
		AuthID:    "auth-2",
		CreatedAt: time.Now(),
	}
	svc = newAuthService(t, oauth1, githubConfig(), newMemoryAuthRepo(), sessions)

	_, err = svc.Callback(context.Background(), "sess-2", url.Values{"oauth_verifier": {"v1"}})
	requireGatewayError(t, err, "INVALID_API_CONFIG", http.StatusUnprocessableEntity)
}

func TestCallbackWithoutSession(t *testing.T) {
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), newMemoryAuthRepo(), newMemorySessionStore())

	_, err := svc.Callback(context.Background(), "", url.Values{})
	requireGatewayError(t, err, "NO_AUTH_IN_PROGRESS", http.StatusUnprocessableEntity)

	_, err = svc.Callback(context.Background(), "unknown", url.Values{})
	requireGatewayError(t, err, "NO_AUTH_IN_PROGRESS", http.StatusUnprocessableEntity)
}

func TestCallbackProviderError(t *testing.T) {
	sessions := newMemorySessionStore()
	sessions.sessions["sess-1"] = domain.ConnectSession{Buid: "github", SetupID: "setup-1", AuthID: "auth-1"}
	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), newMemoryAuthRepo(), sessions)

	_, err := svc.Callback(context.Background(), "sess-1", url.Values{
		"error":             {"access_denied"},
		"error_description": {"user said no"},
	})
	requireGatewayError(t, err, "AUTHENTICATION_FAILED", http.StatusForbidden)
	require.Contains(t, err.Error(), "access_denied")

	// the session is destroyed even on failure
	require.Contains(t, sessions.deleted, "sess-1")
}

func TestCallbackTokenEndpointRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	sessions := newMemorySessionStore()
	sessions.sessions["sess-1"] = domain.ConnectSession{Buid: "github", SetupID: "setup-1", AuthID: "auth-1"}
	svc := newAuthService(t, oauth2Integration(server.URL), githubConfig(), newMemoryAuthRepo(), sessions)

	_, err := svc.Callback(context.Background(), "sess-1", url.Values{"code": {"bad"}})
	requireGatewayError(t, err, "AUTHENTICATION_FAILED", http.StatusForbidden)
	require.Contains(t, err.Error(), "invalid_grant")
}

func TestRevoke(t *testing.T) {
	auths := newMemoryAuthRepo()
	_, err := auths.Upsert(context.Background(), domain.Authentication{Buid: "github", AuthID: "auth-1"})
	require.NoError(t, err)

	svc := newAuthService(t, oauth2Integration("https://provider.example/token"), githubConfig(), auths, newMemorySessionStore())
	require.NoError(t, svc.Revoke(context.Background(), "github", "auth-1"))

	err = svc.Revoke(context.Background(), "github", "auth-1")
	requireGatewayError(t, err, "unknown_authentication", http.StatusNotFound)
}

func requireGatewayError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var gatewayErr *service.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	require.Equal(t, code, gatewayErr.Code)
	require.Equal(t, status, gatewayErr.Status)
}
