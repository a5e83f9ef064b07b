package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
)

const (
	// ProxyRefreshMargin refreshes tokens well before they lapse so a
	// proxied request never travels with a token about to die mid-call.
	ProxyRefreshMargin = 15 * time.Minute
	// ClockDriftMargin absorbs clock skew between the gateway and the
	// provider on plain freshness checks.
	ClockDriftMargin = 60 * time.Second
)

// Refresher keeps stored OAuth2 credentials fresh. Concurrent refreshes
// of the same authentication collapse into one provider call.
type Refresher struct {
	registry *registry.Registry
	auths    repository.AuthenticationRepository
	oauth2   *oauth.OAuth2Client
	group    singleflight.Group
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefresher(reg *registry.Registry, auths repository.AuthenticationRepository, oauth2 *oauth.OAuth2Client, logger *zap.Logger) *Refresher {
	return &Refresher{
		registry: reg,
		auths:    auths,
		oauth2:   oauth2,
		logger:   logger,
		now:      time.Now,
	}
}

// IsExpired reports whether the stored credentials are stale. ExpiresIn
// of 0 means the token never expires (OAuth1) or its lifetime is
// unknown (OAuth2); either way the check is disabled. The reference
// point is the local write time, never provider-reported issuance.
func (r *Refresher) IsExpired(auth domain.Authentication, margin time.Duration) bool {
	if auth.Payload.ExpiresIn <= 0 {
		return false
	}
	expiresAt := auth.UpdatedAt.Add(time.Duration(auth.Payload.ExpiresIn) * time.Second)
	return r.now().After(expiresAt.Add(-margin))
}

// EnsureFresh returns the authentication, refreshing it first when it
// is within margin of expiry. A refresh failure fails the caller; a
// stale token is never silently returned.
func (r *Refresher) EnsureFresh(ctx context.Context, auth domain.Authentication, margin time.Duration) (domain.Authentication, error) {
	if !r.IsExpired(auth, margin) {
		return auth, nil
	}
	return r.Refresh(ctx, auth)
}

// Refresh exchanges the stored refresh token for new credentials and
// persists the result under the same auth id.
func (r *Refresher) Refresh(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	key := auth.Buid + "/" + auth.AuthID
	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.refresh(ctx, auth)
	})
	if err != nil {
		return domain.Authentication{}, err
	}
	return result.(domain.Authentication), nil
}

func (r *Refresher) refresh(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	integration, err := r.registry.Get(auth.Buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return domain.Authentication{}, errUnknownIntegration(auth.Buid)
		}
		return domain.Authentication{}, fmt.Errorf("load integration: %w", err)
	}

	switch integration.AuthType {
	case domain.AuthTypeOAuth1:
		return domain.Authentication{}, errRefreshNotSupported()
	case domain.AuthTypeOAuth2:
		if integration.OAuth2 == nil {
			return domain.Authentication{}, errInvalidAPIConfig(auth.Buid, "authType is OAUTH2 but no oauth2 block is defined")
		}
	default:
		return domain.Authentication{}, errRefreshNotSupported()
	}

	oauth2Cfg, err := expandOAuth2Config(auth.Buid, *integration.OAuth2, auth.Payload.ConnectParams)
	if err != nil {
		return domain.Authentication{}, err
	}

	// The refresh endpoint may differ from the initial token endpoint.
	tokenURL := oauth2Cfg.RefreshURL
	if tokenURL == "" {
		tokenURL = oauth2Cfg.TokenURL
	}
	params := oauth.TokenParams{
		TokenURL:            tokenURL,
		ClientID:            auth.Payload.ClientID,
		ClientSecret:        auth.Payload.ClientSecret,
		AuthorizationMethod: oauth2Cfg.AuthorizationMethod,
		BodyFormat:          oauth2Cfg.BodyFormat,
		TokenParams:         oauth2Cfg.TokenParams,
	}

	var result oauth.TokenResult
	if auth.Payload.HasRefreshToken() {
		result, err = r.oauth2.RefreshToken(ctx, params, auth.Payload.RefreshToken, auth.Payload.IDToken)
	} else if oauth2Cfg.GrantType == domain.GrantTypeClientCredentials {
		// No refresh token is ever issued on this grant; a new token is
		// simply requested again.
		result, err = r.oauth2.ClientCredentials(ctx, params, auth.Payload.Scopes)
	} else {
		return domain.Authentication{}, errAccessTokenExpired()
	}
	if err != nil {
		return domain.Authentication{}, asAuthenticationFailed(err)
	}

	refreshed := r.mergePayload(auth.Payload, result)
	auth.Payload = refreshed
	auth.UpdatedAt = r.now().UTC()

	updated, err := r.auths.Update(ctx, auth)
	if err != nil {
		return domain.Authentication{}, fmt.Errorf("persist refreshed authentication: %w", err)
	}
	r.log().Info("refreshed access token",
		zap.String("buid", auth.Buid),
		zap.String("auth_id", auth.AuthID))
	return updated, nil
}

// mergePayload folds a refresh result over the stored payload. Identity
// fields and CallbackParamsJSON survive untouched; the raw token
// response merges recursively so fields only sent on the first exchange
// are never lost.
func (r *Refresher) mergePayload(previous domain.Payload, result oauth.TokenResult) domain.Payload {
	payload := oauth.ResponseToCredentials(result)
	payload.ClientID = previous.ClientID
	payload.ClientSecret = previous.ClientSecret
	payload.ServiceName = previous.ServiceName
	payload.SetupID = previous.SetupID
	payload.Scopes = previous.Scopes
	payload.ConnectParams = previous.ConnectParams
	payload.CallbackParamsJSON = previous.CallbackParamsJSON
	payload.UpdatedAt = r.now().UnixMilli()

	merged := oauth.MergeTokenResponses(oauth.ParseTokenResponseJSON(previous.TokenResponseJSON), result.DecodedResponse)
	payload.TokenResponseJSON = marshalJSON(merged)
	return payload
}

func (r *Refresher) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
