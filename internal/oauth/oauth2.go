package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

const userAgent = "smallbiznis-gateway"

// TokenResult is the outcome of any OAuth2 token operation, before
// normalization into a storable payload.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
	// DecodedResponse holds the raw response ({headers, body}) exactly
	// as the provider sent it; refreshes merge over it later.
	DecodedResponse map[string]any
}

// OAuth2Client drives authorization-code, refresh and
// client-credentials exchanges against a provider token endpoint.
type OAuth2Client struct {
	HTTPClient *http.Client
}

func NewOAuth2Client(client *http.Client) *OAuth2Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth2Client{HTTPClient: client}
}

// AuthorizeParams describe the provider redirect for the
// authorization-code grant.
type AuthorizeParams struct {
	AuthorizationURL    string
	ClientID            string
	Scope               []string
	State               string
	CallbackURL         string
	AuthorizationParams map[string]string
}

// AuthorizeURL builds the URL the end user is redirected to. Static
// authorizationParams come first so the protocol parameters always win.
func AuthorizeURL(p AuthorizeParams) (string, error) {
	u, err := url.Parse(p.AuthorizationURL)
	if err != nil {
		return "", fmt.Errorf("parse authorization url: %w", err)
	}
	q := u.Query()
	for k, v := range p.AuthorizationParams {
		q.Set(k, v)
	}
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.CallbackURL)
	q.Set("state", p.State)
	q.Set("scope", strings.Join(p.Scope, " "))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenParams carry the client credentials and endpoint knobs shared by
// every token operation.
type TokenParams struct {
	TokenURL            string
	ClientID            string
	ClientSecret        string
	AuthorizationMethod domain.AuthorizationMethod
	BodyFormat          domain.BodyFormat
	TokenParams         map[string]string
}

// ExchangeCode trades an authorization code for a token.
func (c *OAuth2Client) ExchangeCode(ctx context.Context, p TokenParams, code, callbackURL string) (TokenResult, error) {
	form := map[string]string{}
	for k, v := range p.TokenParams {
		form[k] = v
	}
	form["grant_type"] = "authorization_code"
	form["code"] = code
	form["redirect_uri"] = callbackURL
	return c.requestToken(ctx, p, form)
}

// RefreshToken trades a refresh token for a fresh access token. Many
// providers omit refresh_token/id_token on refresh responses; the
// previous values are carried forward so they are never lost.
func (c *OAuth2Client) RefreshToken(ctx context.Context, p TokenParams, refreshToken, idToken string) (TokenResult, error) {
	result, err := c.requestToken(ctx, p, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return TokenResult{}, err
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	if result.IDToken == "" {
		result.IDToken = idToken
	}
	return result, nil
}

// ClientCredentials obtains a token without any user interaction.
func (c *OAuth2Client) ClientCredentials(ctx context.Context, p TokenParams, scope []string) (TokenResult, error) {
	return c.requestToken(ctx, p, map[string]string{
		"grant_type": "client_credentials",
		"scope":      strings.Join(scope, " "),
	})
}

func (c *OAuth2Client) requestToken(ctx context.Context, p TokenParams, form map[string]string) (TokenResult, error) {
	authorizationMethod := p.AuthorizationMethod
	if authorizationMethod == "" {
		authorizationMethod = domain.AuthorizationMethodBody
	}
	bodyFormat := p.BodyFormat
	if bodyFormat == "" {
		bodyFormat = domain.BodyFormatForm
	}

	if authorizationMethod == domain.AuthorizationMethodBody {
		form["client_id"] = p.ClientID
		form["client_secret"] = p.ClientSecret
	}

	var (
		body        io.Reader
		contentType string
	)
	switch bodyFormat {
	case domain.BodyFormatJSON:
		raw, err := json.Marshal(form)
		if err != nil {
			return TokenResult{}, fmt.Errorf("marshal token request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	default:
		values := url.Values{}
		for k, v := range form {
			values.Set(k, v)
		}
		body = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, body)
	if err != nil {
		return TokenResult{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if authorizationMethod == domain.AuthorizationMethodHeader {
		req.SetBasicAuth(url.QueryEscape(p.ClientID), url.QueryEscape(p.ClientSecret))
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return TokenResult{}, &AuthenticationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenResult{}, &AuthenticationError{Message: "read token response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return TokenResult{}, &AuthenticationError{Message: "token endpoint error", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	decoded := decodeTokenBody(resp.Header.Get("Content-Type"), raw)
	accessToken, _ := decoded["access_token"].(string)
	if accessToken == "" {
		return TokenResult{}, &AuthenticationError{Message: "no access token returned", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	headers := map[string]any{}
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	result := TokenResult{
		AccessToken:     accessToken,
		ExpiresIn:       extractExpiresIn(decoded),
		DecodedResponse: map[string]any{"headers": headers, "body": decoded},
	}
	result.RefreshToken, _ = decoded["refresh_token"].(string)
	result.IDToken, _ = decoded["id_token"].(string)
	return result, nil
}

func (c *OAuth2Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// decodeTokenBody parses a token response as JSON or, when the
// provider answers with a form encoding (GitHub does), as URL-encoded
// pairs. An unparseable body falls through to an empty map, which the
// caller reports as a missing access token with the raw body attached.
func decodeTokenBody(contentType string, raw []byte) map[string]any {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/x-www-form-urlencoded" {
		return decodeForm(raw)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return decodeForm(raw)
}

func decodeForm(raw []byte) map[string]any {
	decoded := map[string]any{}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return decoded
	}
	for k := range values {
		decoded[k] = values.Get(k)
	}
	return decoded
}

// extractExpiresIn resolves the token lifetime. expires_in_sec is
// non-standard but takes priority: Zoho returns expires_in in
// milliseconds and the real value under expires_in_sec.
func extractExpiresIn(body map[string]any) int64 {
	for _, key := range []string{"expires_in_sec", "expires_in"} {
		if v, ok := body[key]; ok {
			if n, ok := toInt64(v); ok {
				return n
			}
		}
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch value := v.(type) {
	case float64:
		return int64(value), true
	case int64:
		return value, true
	case json.Number:
		n, err := value.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
