package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// OAuth1Client drives the three-legged OAuth1 handshake: request
// token, user authorization redirect, access token.
type OAuth1Client struct {
	HTTPClient *http.Client
}

func NewOAuth1Client(client *http.Client) *OAuth1Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth1Client{HTTPClient: client}
}

// RequestToken is the temporary credential pair obtained at connect
// time and redeemed on callback.
type RequestToken struct {
	Token  string
	Secret string
}

// GetRequestToken performs the signed request-token call.
func (c *OAuth1Client) GetRequestToken(ctx context.Context, cfg domain.OAuth1Config, creds domain.Credentials, callbackURL string) (RequestToken, error) {
	signer := Signer{
		ConsumerKey:     creds.ConsumerKey,
		ConsumerSecret:  creds.ConsumerSecret,
		SignatureMethod: cfg.SignatureMethod,
	}
	extra := map[string]string{"oauth_callback": callbackURL}
	for k, v := range cfg.TokenParams {
		extra[k] = v
	}

	values, err := c.signedPost(ctx, signer, cfg.RequestTokenURL, extra)
	if err != nil {
		return RequestToken{}, err
	}

	token := values.Get("oauth_token")
	if token == "" {
		return RequestToken{}, &AuthenticationError{Message: "no request token returned", Body: values.Encode()}
	}
	return RequestToken{Token: token, Secret: values.Get("oauth_token_secret")}, nil
}

// AuthorizeURL builds the user-authorization redirect for a request
// token.
func AuthorizeOAuth1URL(cfg domain.OAuth1Config, requestToken string) (string, error) {
	u, err := url.Parse(cfg.UserAuthorizationURL)
	if err != nil {
		return "", fmt.Errorf("parse user authorization url: %w", err)
	}
	q := u.Query()
	for k, v := range cfg.AuthorizationParams {
		q.Set(k, v)
	}
	q.Set("oauth_token", requestToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AccessTokenResult is the outcome of the access-token exchange.
type AccessTokenResult struct {
	AccessToken string
	TokenSecret string
	// ExpiresIn is 0 when the provider omits expires_in or sends a
	// non-numeric value: OAuth1 encodes "never expires" as 0.
	ExpiresIn       int64
	DecodedResponse map[string]any
}

// GetAccessToken redeems the request token plus verifier.
func (c *OAuth1Client) GetAccessToken(ctx context.Context, cfg domain.OAuth1Config, creds domain.Credentials, requestToken RequestToken, verifier string) (AccessTokenResult, error) {
	signer := Signer{
		ConsumerKey:     creds.ConsumerKey,
		ConsumerSecret:  creds.ConsumerSecret,
		Token:           requestToken.Token,
		TokenSecret:     requestToken.Secret,
		SignatureMethod: cfg.SignatureMethod,
	}

	values, err := c.signedPost(ctx, signer, cfg.AccessTokenURL, map[string]string{"oauth_verifier": verifier})
	if err != nil {
		return AccessTokenResult{}, err
	}

	accessToken := values.Get("oauth_token")
	if accessToken == "" {
		return AccessTokenResult{}, &AuthenticationError{Message: "no access token returned", Body: values.Encode()}
	}

	body := map[string]any{}
	for k := range values {
		body[k] = values.Get(k)
	}

	return AccessTokenResult{
		AccessToken:     accessToken,
		TokenSecret:     values.Get("oauth_token_secret"),
		ExpiresIn:       parseOAuth1Expires(values.Get("expires_in")),
		DecodedResponse: map[string]any{"body": body},
	}, nil
}

func (c *OAuth1Client) signedPost(ctx context.Context, signer Signer, endpoint string, protocolParams map[string]string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build oauth1 request: %w", err)
	}

	header, err := signer.AuthorizationHeader(http.MethodPost, endpoint, protocolParams)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &AuthenticationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthenticationError{Message: "read oauth1 response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &AuthenticationError{Message: "oauth1 endpoint error", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, &AuthenticationError{Message: "malformed oauth1 response", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return values, nil
}

func (c *OAuth1Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// parseOAuth1Expires defaults any missing or unparseable expires_in to
// 0, i.e. "never expires". This differs from the OAuth2 convention
// deliberately; both flow through the same falsy check in the
// freshness orchestrator.
func parseOAuth1Expires(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
