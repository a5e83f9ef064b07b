package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/config"
	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	gatewayhttp "github.com/smallbiznis/smallbiznis-gateway/internal/http"
	"github.com/smallbiznis/smallbiznis-gateway/internal/http/handler"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeConfigRepo struct {
	cfg domain.Configuration
}

func (f *fakeConfigRepo) Get(ctx context.Context, buid, setupID string) (domain.Configuration, error) {
	if f.cfg.Buid != buid || f.cfg.SetupID != setupID {
		return domain.Configuration{}, domain.ErrConfigurationNotFound
	}
	return f.cfg, nil
}

func (f *fakeConfigRepo) Latest(ctx context.Context, buid string) (domain.Configuration, error) {
	if f.cfg.Buid != buid {
		return domain.Configuration{}, domain.ErrConfigurationNotFound
	}
	return f.cfg, nil
}

func (f *fakeConfigRepo) List(ctx context.Context, buid string) ([]domain.Configuration, error) {
	if f.cfg.Buid != buid {
		return nil, nil
	}
	return []domain.Configuration{f.cfg}, nil
}

func (f *fakeConfigRepo) Insert(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	f.cfg = cfg
	return cfg, nil
}

func (f *fakeConfigRepo) Update(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	f.cfg = cfg
	return cfg, nil
}

func (f *fakeConfigRepo) Delete(ctx context.Context, buid, setupID string) error { return nil }

type fakeAuthRepo struct {
	auths map[string]domain.Authentication
}

func (f *fakeAuthRepo) Get(ctx context.Context, buid, authID string) (domain.Authentication, error) {
	auth, ok := f.auths[buid+"/"+authID]
	if !ok {
		return domain.Authentication{}, domain.ErrAuthenticationNotFound
	}
	return auth, nil
}

func (f *fakeAuthRepo) Upsert(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	f.auths[auth.Buid+"/"+auth.AuthID] = auth
	return auth, nil
}

func (f *fakeAuthRepo) Update(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	return f.Upsert(ctx, auth)
}

func (f *fakeAuthRepo) Delete(ctx context.Context, buid, authID string) error {
	key := buid + "/" + authID
	if _, ok := f.auths[key]; !ok {
		return domain.ErrAuthenticationNotFound
	}
	delete(f.auths, key)
	return nil
}

type fakeSessionStore struct {
	sessions map[string]domain.ConnectSession
}

func (f *fakeSessionStore) Save(ctx context.Context, id string, session domain.ConnectSession, ttl time.Duration) error {
	f.sessions[id] = session
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, id string) (domain.ConnectSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return domain.ConnectSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

type gatewayFixture struct {
	router  *gin.Engine
	auths   *fakeAuthRepo
	gateway *httptest.Server
}

func newGateway(t *testing.T, integration domain.Integration, cfg domain.Configuration) *gatewayFixture {
	t.Helper()

	dir := t.TempDir()
	raw, err := json.Marshal(integration)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, integration.ID+".json"), raw, 0o600))
	reg := registry.New(dir, zap.NewNop())

	configs := &fakeConfigRepo{cfg: cfg}
	auths := &fakeAuthRepo{auths: map[string]domain.Authentication{}}
	sessions := &fakeSessionStore{sessions: map[string]domain.ConnectSession{}}
	logger := zap.NewNop()

	oauth1Client := oauth.NewOAuth1Client(nil)
	oauth2Client := oauth.NewOAuth2Client(nil)
	authSvc := service.NewAuthService(reg, configs, auths, sessions, oauth1Client, oauth2Client,
		"http://gateway.test/auth/callback", 10*time.Minute, logger)
	refresher := service.NewRefresher(reg, auths, oauth2Client, logger)
	builder := service.NewProxyBuilder(reg, auths, refresher, logger)
	forwarder := service.NewForwarder(nil, logger)
	configSvc := service.NewConfigurationService(reg, configs, logger)

	router := gatewayhttp.NewRouter(
		config.Config{ServiceName: "gateway-test", CORSAllowedOrigins: []string{"*"}},
		handler.NewAuthHandler(authSvc),
		handler.NewProxyHandler(builder, forwarder),
		handler.NewAPIHandler(reg, configSvc),
	)
	return &gatewayFixture{router: router, auths: auths}
}

var authIDPattern = regexp.MustCompile(`authId: "([^"]+)"`)

func TestConnectCallbackProxyRoundTrip(t *testing.T) {
	// Provider token endpoint and target API.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","refresh_token":"ref1","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var targetAuth, targetViewParam string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetAuth = r.Header.Get("Authorization")
		targetViewParam = r.URL.Query().Get("gateway_debug")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer target.Close()

	integration := domain.Integration{
		ID:       "github",
		AuthType: domain.AuthTypeOAuth2,
		OAuth2: &domain.OAuth2Config{
			AuthorizationURL: "https://provider.test/authorize",
			TokenURL:         tokenServer.URL,
			Scope:            []string{"repo"},
		},
		Request: domain.RequestConfig{
			BaseURL: target.URL,
			Headers: map[string]string{"Authorization": "Bearer ${auth.accessToken}"},
		},
	}
	fixture := newGateway(t, integration, domain.Configuration{
		Buid:        "github",
		SetupID:     "setup-1",
		Credentials: domain.Credentials{ClientID: "c1", ClientSecret: "s1"},
	})

	// 1. connect redirects to the provider and plants the session cookie
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/github?params[subdomain]=acme", nil)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "provider.test/authorize")
	require.Contains(t, rec.Header().Get("Location"), "client_id=c1")

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	var sessionCookie *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == handler.SessionCookie {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie)

	// 2. the provider redirects back, the gateway exchanges the code
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/auth/callback?code=the-code&state="+sessionCookie.Value, nil)
	req.AddCookie(sessionCookie)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	match := authIDPattern.FindStringSubmatch(rec.Body.String())
	require.NotNil(t, match, "callback page must carry the auth id: %s", rec.Body.String())
	authID := match[1]

	// 3. a proxy call travels with the stored token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/proxy/github/items?gateway_debug=1", nil)
	req.Header.Set(service.HeaderAuthID, authID)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Bearer tok1", targetAuth)
	require.Empty(t, targetViewParam)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestCallbackWithoutSessionRendersError(t *testing.T) {
	fixture := newGateway(t, domain.Integration{
		ID:       "github",
		AuthType: domain.AuthTypeOAuth2,
		OAuth2:   &domain.OAuth2Config{AuthorizationURL: "https://provider.test/authorize", TokenURL: "https://provider.test/token"},
	}, domain.Configuration{Buid: "github", SetupID: "setup-1", Credentials: domain.Credentials{ClientID: "c1", ClientSecret: "s1"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=x", nil)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_AUTH_IN_PROGRESS")
}

func TestProxyWithoutAuthIDHeader(t *testing.T) {
	fixture := newGateway(t, domain.Integration{
		ID:       "github",
		AuthType: domain.AuthTypeOAuth2,
		OAuth2:   &domain.OAuth2Config{AuthorizationURL: "https://provider.test/authorize", TokenURL: "https://provider.test/token"},
		Request:  domain.RequestConfig{BaseURL: "https://api.test"},
	}, domain.Configuration{Buid: "github", SetupID: "setup-1", Credentials: domain.Credentials{ClientID: "c1", ClientSecret: "s1"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/github/items", nil)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "MISSING_AUTH_ID", body.Error.Code)
	require.NotEmpty(t, body.Error.Message)
}

func TestIntegrationSummaryLabels(t *testing.T) {
	fixture := newGateway(t, domain.Integration{
		ID:       "trello",
		Name:     "Trello",
		AuthType: domain.AuthTypeOAuth1,
		OAuth1: &domain.OAuth1Config{
			RequestTokenURL:      "https://provider.test/request",
			AccessTokenURL:       "https://provider.test/access",
			UserAuthorizationURL: "https://provider.test/authorize",
		},
	}, domain.Configuration{Buid: "trello", SetupID: "setup-1", Credentials: domain.Credentials{ConsumerKey: "ck", ConsumerSecret: "cs"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/trello", nil)
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Consumer Key")
	require.Contains(t, rec.Body.String(), "Consumer Secret")
}

func TestConfigurationEndpoints(t *testing.T) {
	fixture := newGateway(t, domain.Integration{
		ID:       "github",
		AuthType: domain.AuthTypeOAuth2,
		OAuth2:   &domain.OAuth2Config{AuthorizationURL: "https://provider.test/authorize", TokenURL: "https://provider.test/token"},
	}, domain.Configuration{Buid: "github", SetupID: "setup-1", Credentials: domain.Credentials{ClientID: "c1", ClientSecret: "s1"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/github/configurations",
		strings.NewReader(`{"credentials":{"clientId":"c2","clientSecret":"s2"},"scopes":["repo"]}`))
	req.Header.Set("Content-Type", "application/json")
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/github/configurations",
		strings.NewReader(`{"credentials":{"consumerKey":"ck"}}`))
	req.Header.Set("Content-Type", "application/json")
	fixture.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_CONFIGURATION")
}
