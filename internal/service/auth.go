package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
)

// connectParamPattern bounds the characters accepted in connect
// parameter values; they end up inside URLs and stored payloads.
var connectParamPattern = regexp.MustCompile(`^[\w\s.-]*$`)

// AuthService drives the OAuth connect and callback flows and the
// lifecycle of stored authentications.
type AuthService interface {
	Connect(ctx context.Context, in ConnectInput) (*ConnectResult, error)
	Callback(ctx context.Context, sessionID string, query url.Values) (*CallbackResult, error)
	Revoke(ctx context.Context, buid, authID string) error
}

// ConnectInput starts an authentication flow for one integration.
type ConnectInput struct {
	Buid          string
	SetupID       string
	ConnectParams map[string]string
}

// ConnectResult is either a redirect to the provider (SessionID set,
// cookie required) or an already completed authentication (Completed,
// AuthID set) for flows without user interaction.
type ConnectResult struct {
	SessionID   string
	RedirectURL string
	AuthID      string
	Completed   bool
}

// CallbackResult carries the auth id the callback page hands back to
// the frontend.
type CallbackResult struct {
	AuthID string
}

type authService struct {
	registry    *registry.Registry
	configs     repository.ConfigurationRepository
	auths       repository.AuthenticationRepository
	sessions    repository.SessionStore
	oauth1      *oauth.OAuth1Client
	oauth2      *oauth.OAuth2Client
	callbackURL string
	sessionTTL  time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService wires the auth flow implementation. callbackURL is the
// absolute URL of the gateway's /auth/callback endpoint as registered
// with the providers.
func NewAuthService(
	reg *registry.Registry,
	configs repository.ConfigurationRepository,
	auths repository.AuthenticationRepository,
	sessions repository.SessionStore,
	oauth1 *oauth.OAuth1Client,
	oauth2 *oauth.OAuth2Client,
	callbackURL string,
	sessionTTL time.Duration,
	logger *zap.Logger,
) AuthService {
	return &authService{
		registry:    reg,
		configs:     configs,
		auths:       auths,
		sessions:    sessions,
		oauth1:      oauth1,
		oauth2:      oauth2,
		callbackURL: callbackURL,
		sessionTTL:  sessionTTL,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *authService) Connect(ctx context.Context, in ConnectInput) (*ConnectResult, error) {
	integration, err := s.registry.Get(in.Buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, errUnknownIntegration(in.Buid)
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}

	for name, value := range in.ConnectParams {
		if !connectParamPattern.MatchString(value) {
			return nil, errInvalidConnectParam(name)
		}
	}

	cfg, err := resolveConfiguration(ctx, s.configs, in.Buid, in.SetupID)
	if err != nil {
		return nil, err
	}

	session := domain.ConnectSession{
		Buid:          in.Buid,
		SetupID:       cfg.SetupID,
		AuthID:        uuid.NewString(),
		ConnectParams: in.ConnectParams,
		CreatedAt:     s.now().UTC(),
	}

	switch integration.AuthType {
	case domain.AuthTypeOAuth2:
		if integration.OAuth2 == nil {
			return nil, errInvalidAPIConfig(in.Buid, "authType is OAUTH2 but no oauth2 block is defined")
		}
		oauth2Cfg, err := expandOAuth2Config(in.Buid, *integration.OAuth2, in.ConnectParams)
		if err != nil {
			return nil, err
		}
		if oauth2Cfg.GrantType == domain.GrantTypeClientCredentials {
			return s.connectClientCredentials(ctx, integration, oauth2Cfg, cfg, session)
		}
		return s.connectOAuth2(ctx, oauth2Cfg, cfg, session)

	case domain.AuthTypeOAuth1:
		if integration.OAuth1 == nil {
			return nil, errInvalidAPIConfig(in.Buid, "authType is OAUTH1 but no oauth1 block is defined")
		}
		oauth1Cfg, err := expandOAuth1Config(in.Buid, *integration.OAuth1, in.ConnectParams)
		if err != nil {
			return nil, err
		}
		return s.connectOAuth1(ctx, oauth1Cfg, cfg, session)

	default:
		// Integrations without a handshake still get an authentication
		// row so the proxy templates can rely on connectParams.
		return s.connectNoAuth(ctx, session)
	}
}

func (s *authService) connectOAuth2(ctx context.Context, oauth2Cfg domain.OAuth2Config, cfg domain.Configuration, session domain.ConnectSession) (*ConnectResult, error) {
	sessionID := uuid.NewString()

	redirectURL, err := oauth.AuthorizeURL(oauth.AuthorizeParams{
		AuthorizationURL:    oauth2Cfg.AuthorizationURL,
		ClientID:            cfg.Credentials.ClientID,
		Scope:               scopesFor(cfg, oauth2Cfg),
		State:               sessionID,
		CallbackURL:         s.callbackURL,
		AuthorizationParams: oauth2Cfg.AuthorizationParams,
	})
	if err != nil {
		return nil, errInvalidAPIConfig(session.Buid, err.Error())
	}

	if err := s.sessions.Save(ctx, sessionID, session, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("persist connect session: %w", err)
	}
	return &ConnectResult{SessionID: sessionID, RedirectURL: redirectURL}, nil
}

func (s *authService) connectOAuth1(ctx context.Context, oauth1Cfg domain.OAuth1Config, cfg domain.Configuration, session domain.ConnectSession) (*ConnectResult, error) {
	requestToken, err := s.oauth1.GetRequestToken(ctx, oauth1Cfg, cfg.Credentials, s.callbackURL)
	if err != nil {
		return nil, asAuthenticationFailed(err)
	}
	session.RequestToken = requestToken.Token
	session.RequestTokenSecret = requestToken.Secret

	redirectURL, err := oauth.AuthorizeOAuth1URL(oauth1Cfg, requestToken.Token)
	if err != nil {
		return nil, errInvalidAPIConfig(session.Buid, err.Error())
	}

	sessionID := uuid.NewString()
	if err := s.sessions.Save(ctx, sessionID, session, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("persist connect session: %w", err)
	}
	return &ConnectResult{SessionID: sessionID, RedirectURL: redirectURL}, nil
}

// connectClientCredentials completes in a single round trip; no session
// or user redirect is involved.
func (s *authService) connectClientCredentials(ctx context.Context, integration domain.Integration, oauth2Cfg domain.OAuth2Config, cfg domain.Configuration, session domain.ConnectSession) (*ConnectResult, error) {
	result, err := s.oauth2.ClientCredentials(ctx, tokenParamsFor(oauth2Cfg, cfg), scopesFor(cfg, oauth2Cfg))
	if err != nil {
		return nil, asAuthenticationFailed(err)
	}

	auth := s.buildAuthentication(session, s.oauth2Payload(result, cfg, oauth2Cfg, session, nil))
	if _, err := s.auths.Upsert(ctx, auth); err != nil {
		return nil, fmt.Errorf("persist authentication: %w", err)
	}
	return &ConnectResult{AuthID: auth.AuthID, Completed: true}, nil
}

func (s *authService) connectNoAuth(ctx context.Context, session domain.ConnectSession) (*ConnectResult, error) {
	payload := domain.Payload{
		ServiceName:   session.Buid,
		SetupID:       session.SetupID,
		ConnectParams: session.ConnectParams,
		UpdatedAt:     s.now().UnixMilli(),
	}
	auth := s.buildAuthentication(session, payload)
	if _, err := s.auths.Upsert(ctx, auth); err != nil {
		return nil, fmt.Errorf("persist authentication: %w", err)
	}
	return &ConnectResult{AuthID: auth.AuthID, Completed: true}, nil
}

func (s *authService) Callback(ctx context.Context, sessionID string, query url.Values) (*CallbackResult, error) {
	if sessionID == "" {
		return nil, errNoAuthInProgress()
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, errNoAuthInProgress()
		}
		return nil, fmt.Errorf("load connect session: %w", err)
	}
	// The session is single use whatever the outcome. A destroy failure
	// is logged and never masks the flow's own result.
	defer func() {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			s.log().Warn("failed to delete connect session", zap.String("buid", session.Buid), zap.Error(err))
		}
	}()

	if provErr := query.Get("error"); provErr != "" {
		detail := provErr
		if desc := query.Get("error_description"); desc != "" {
			detail = fmt.Sprintf("%s: %s", provErr, desc)
		}
		return nil, errAuthenticationFailed("The provider rejected the authorization: " + detail)
	}

	integration, err := s.registry.Get(session.Buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, errUnknownIntegration(session.Buid)
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}
	cfg, err := resolveConfiguration(ctx, s.configs, session.Buid, session.SetupID)
	if err != nil {
		return nil, err
	}

	var payload domain.Payload
	switch integration.AuthType {
	case domain.AuthTypeOAuth2:
		payload, err = s.callbackOAuth2(ctx, integration, cfg, session, query)
	case domain.AuthTypeOAuth1:
		payload, err = s.callbackOAuth1(ctx, integration, cfg, session, query)
	default:
		return nil, errInvalidAPIConfig(session.Buid, "integration does not use an OAuth handshake")
	}
	if err != nil {
		return nil, err
	}

	auth := s.buildAuthentication(session, payload)
	if _, err := s.auths.Upsert(ctx, auth); err != nil {
		return nil, fmt.Errorf("persist authentication: %w", err)
	}
	return &CallbackResult{AuthID: auth.AuthID}, nil
}

func (s *authService) callbackOAuth2(ctx context.Context, integration domain.Integration, cfg domain.Configuration, session domain.ConnectSession, query url.Values) (domain.Payload, error) {
	// The definition may have been reloaded since connect.
	if integration.OAuth2 == nil {
		return domain.Payload{}, errInvalidAPIConfig(session.Buid, "authType is OAUTH2 but no oauth2 block is defined")
	}
	code := query.Get("code")
	if code == "" {
		return domain.Payload{}, errAuthenticationFailed("The provider callback carried no authorization code.")
	}
	oauth2Cfg, err := expandOAuth2Config(session.Buid, *integration.OAuth2, session.ConnectParams)
	if err != nil {
		return domain.Payload{}, err
	}

	result, err := s.oauth2.ExchangeCode(ctx, tokenParamsFor(oauth2Cfg, cfg), code, s.callbackURL)
	if err != nil {
		return domain.Payload{}, asAuthenticationFailed(err)
	}
	return s.oauth2Payload(result, cfg, oauth2Cfg, session, query), nil
}

func (s *authService) callbackOAuth1(ctx context.Context, integration domain.Integration, cfg domain.Configuration, session domain.ConnectSession, query url.Values) (domain.Payload, error) {
	if integration.OAuth1 == nil {
		return domain.Payload{}, errInvalidAPIConfig(session.Buid, "authType is OAUTH1 but no oauth1 block is defined")
	}
	oauth1Cfg, err := expandOAuth1Config(session.Buid, *integration.OAuth1, session.ConnectParams)
	if err != nil {
		return domain.Payload{}, err
	}

	requestToken := oauth.RequestToken{Token: session.RequestToken, Secret: session.RequestTokenSecret}
	result, err := s.oauth1.GetAccessToken(ctx, oauth1Cfg, cfg.Credentials, requestToken, query.Get("oauth_verifier"))
	if err != nil {
		return domain.Payload{}, asAuthenticationFailed(err)
	}

	return domain.Payload{
		AccessToken:        result.AccessToken,
		TokenSecret:        result.TokenSecret,
		ConsumerKey:        cfg.Credentials.ConsumerKey,
		ConsumerSecret:     cfg.Credentials.ConsumerSecret,
		ExpiresIn:          result.ExpiresIn,
		ServiceName:        session.Buid,
		SetupID:            session.SetupID,
		Scopes:             cfg.Scopes,
		ConnectParams:      session.ConnectParams,
		UpdatedAt:          s.now().UnixMilli(),
		TokenResponseJSON:  marshalJSON(result.DecodedResponse),
		CallbackParamsJSON: marshalJSON(singleValues(query)),
	}, nil
}

func (s *authService) Revoke(ctx context.Context, buid, authID string) error {
	if err := s.auths.Delete(ctx, buid, authID); err != nil {
		if errors.Is(err, domain.ErrAuthenticationNotFound) {
			return errUnknownAuthentication(authID)
		}
		return fmt.Errorf("delete authentication: %w", err)
	}
	return nil
}

// oauth2Payload normalizes a token result into the storable shape.
// CallbackParamsJSON is captured here, at creation, and is preserved
// verbatim by every later refresh.
func (s *authService) oauth2Payload(result oauth.TokenResult, cfg domain.Configuration, oauth2Cfg domain.OAuth2Config, session domain.ConnectSession, query url.Values) domain.Payload {
	payload := oauth.ResponseToCredentials(result)
	payload.ClientID = cfg.Credentials.ClientID
	payload.ClientSecret = cfg.Credentials.ClientSecret
	payload.ServiceName = session.Buid
	payload.SetupID = session.SetupID
	payload.Scopes = scopesFor(cfg, oauth2Cfg)
	payload.ConnectParams = session.ConnectParams
	payload.UpdatedAt = s.now().UnixMilli()
	payload.TokenResponseJSON = marshalJSON(result.DecodedResponse)
	if query != nil {
		payload.CallbackParamsJSON = marshalJSON(singleValues(query))
	}
	return payload
}

func (s *authService) buildAuthentication(session domain.ConnectSession, payload domain.Payload) domain.Authentication {
	now := s.now().UTC()
	return domain.Authentication{
		Buid:      session.Buid,
		AuthID:    session.AuthID,
		SetupID:   session.SetupID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *authService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

// tokenParamsFor assembles the token endpoint parameters shared by the
// code exchange, refresh and client-credentials paths.
func tokenParamsFor(cfg domain.OAuth2Config, c domain.Configuration) oauth.TokenParams {
	return oauth.TokenParams{
		TokenURL:            cfg.TokenURL,
		ClientID:            c.Credentials.ClientID,
		ClientSecret:        c.Credentials.ClientSecret,
		AuthorizationMethod: cfg.AuthorizationMethod,
		BodyFormat:          cfg.BodyFormat,
		TokenParams:         cfg.TokenParams,
	}
}

// scopesFor resolves the scopes of a flow: the configuration's own
// scopes win, the integration definition supplies the default.
func scopesFor(cfg domain.Configuration, oauth2Cfg domain.OAuth2Config) []string {
	if len(cfg.Scopes) > 0 {
		return cfg.Scopes
	}
	return oauth2Cfg.Scope
}

// asAuthenticationFailed converts provider-level failures into the
// user-facing taxonomy, carrying the raw provider response for
// debugging.
func asAuthenticationFailed(err error) error {
	var authErr *oauth.AuthenticationError
	if errors.As(err, &authErr) {
		detail := authErr.Message
		if authErr.Body != "" {
			detail = fmt.Sprintf("%s (provider response: %s)", authErr.Message, authErr.Body)
		}
		return errAuthenticationFailed(detail)
	}
	return err
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func singleValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
