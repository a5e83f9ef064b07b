package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/interpolate"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
)

// resolveConfiguration loads the credential set a flow should use: the
// explicit setup id when given, the most recently updated configuration
// otherwise.
func resolveConfiguration(ctx context.Context, repo repository.ConfigurationRepository, buid, setupID string) (domain.Configuration, error) {
	var (
		cfg domain.Configuration
		err error
	)
	if setupID != "" {
		cfg, err = repo.Get(ctx, buid, setupID)
	} else {
		cfg, err = repo.Latest(ctx, buid)
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfigurationNotFound) {
			return domain.Configuration{}, errCredentialsNotConfigured(buid)
		}
		return domain.Configuration{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// validateCredentialShape checks that a credential set structurally
// matches the integration's auth type. Runs at save time only.
func validateCredentialShape(integration domain.Integration, creds domain.Credentials) error {
	switch integration.AuthType {
	case domain.AuthTypeOAuth1:
		if creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
			return errInvalidConfiguration("OAuth1 integrations require consumerKey and consumerSecret.")
		}
	case domain.AuthTypeOAuth2:
		if creds.ClientID == "" || creds.ClientSecret == "" {
			return errInvalidConfiguration("OAuth2 integrations require clientId and clientSecret.")
		}
	}
	return nil
}

// expandOAuth1Config resolves ${connectParams.*} placeholders inside
// the integration's OAuth1 endpoints and static params against the
// params captured at connect time.
func expandOAuth1Config(buid string, cfg domain.OAuth1Config, connectParams map[string]string) (domain.OAuth1Config, error) {
	vars := authConfigVars(connectParams)
	out := cfg

	var err error
	if out.RequestTokenURL, err = interpolate.InterpolateString(cfg.RequestTokenURL, "oauth1.requestTokenURL", vars); err != nil {
		return domain.OAuth1Config{}, authConfigError(buid, err)
	}
	if out.AccessTokenURL, err = interpolate.InterpolateString(cfg.AccessTokenURL, "oauth1.accessTokenURL", vars); err != nil {
		return domain.OAuth1Config{}, authConfigError(buid, err)
	}
	if out.UserAuthorizationURL, err = interpolate.InterpolateString(cfg.UserAuthorizationURL, "oauth1.userAuthorizationURL", vars); err != nil {
		return domain.OAuth1Config{}, authConfigError(buid, err)
	}
	if out.AuthorizationParams, err = interpolate.InterpolateStringMap(cfg.AuthorizationParams, "oauth1.authorizationParams", vars); err != nil {
		return domain.OAuth1Config{}, authConfigError(buid, err)
	}
	if out.TokenParams, err = interpolate.InterpolateStringMap(cfg.TokenParams, "oauth1.tokenParams", vars); err != nil {
		return domain.OAuth1Config{}, authConfigError(buid, err)
	}
	return out, nil
}

// expandOAuth2Config is the OAuth2 counterpart of expandOAuth1Config.
func expandOAuth2Config(buid string, cfg domain.OAuth2Config, connectParams map[string]string) (domain.OAuth2Config, error) {
	vars := authConfigVars(connectParams)
	out := cfg

	var err error
	if out.AuthorizationURL, err = interpolate.InterpolateString(cfg.AuthorizationURL, "oauth2.authorizationURL", vars); err != nil {
		return domain.OAuth2Config{}, authConfigError(buid, err)
	}
	if out.TokenURL, err = interpolate.InterpolateString(cfg.TokenURL, "oauth2.tokenURL", vars); err != nil {
		return domain.OAuth2Config{}, authConfigError(buid, err)
	}
	if out.RefreshURL, err = interpolate.InterpolateString(cfg.RefreshURL, "oauth2.refreshURL", vars); err != nil {
		return domain.OAuth2Config{}, authConfigError(buid, err)
	}
	if out.AuthorizationParams, err = interpolate.InterpolateStringMap(cfg.AuthorizationParams, "oauth2.authorizationParams", vars); err != nil {
		return domain.OAuth2Config{}, authConfigError(buid, err)
	}
	if out.TokenParams, err = interpolate.InterpolateStringMap(cfg.TokenParams, "oauth2.tokenParams", vars); err != nil {
		return domain.OAuth2Config{}, authConfigError(buid, err)
	}
	return out, nil
}

func authConfigVars(connectParams map[string]string) interpolate.Variables {
	params := map[string]any{}
	for k, v := range connectParams {
		params[k] = v
	}
	return interpolate.Variables{"connectParams": params}
}

// authConfigError maps an interpolation failure inside an auth config
// to the taxonomy: missing connect params point the caller at the
// connect flow, anything else is a broken definition.
func authConfigError(buid string, err error) error {
	var undef *interpolate.UndefinedVariableError
	if errors.As(err, &undef) {
		if pathRoot(undef.VariablePath) == "connectParams" {
			return errMissingConnectParam(undef.TemplatePath, undef.VariablePath)
		}
		return errInvalidAPIConfig(buid, fmt.Sprintf("template %q references unknown variable %q", undef.TemplatePath, undef.VariablePath))
	}
	return fmt.Errorf("expand auth config: %w", err)
}

// pathRoot returns the first segment of a dotted variable path.
func pathRoot(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}
