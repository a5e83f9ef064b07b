package domain

// AuthType identifies the handshake an integration uses.
type AuthType string

const (
	AuthTypeNone   AuthType = "NO_AUTH"
	AuthTypeOAuth1 AuthType = "OAUTH1"
	AuthTypeOAuth2 AuthType = "OAUTH2"
)

// GrantType selects the OAuth2 token acquisition flow.
type GrantType string

const (
	GrantTypeAuthCode          GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
)

// AuthorizationMethod controls where the OAuth2 client credentials travel
// on token requests.
type AuthorizationMethod string

const (
	AuthorizationMethodBody   AuthorizationMethod = "body"
	AuthorizationMethodHeader AuthorizationMethod = "header"
)

// BodyFormat controls the encoding of OAuth2 token request bodies.
type BodyFormat string

const (
	BodyFormatForm BodyFormat = "form"
	BodyFormatJSON BodyFormat = "json"
)

// SignatureMethod is the OAuth1 request signing algorithm.
type SignatureMethod string

const (
	SignatureMethodHMACSHA1  SignatureMethod = "HMAC-SHA1"
	SignatureMethodPlaintext SignatureMethod = "PLAINTEXT"
)

// RequestConfig is the declarative outbound request template of an
// integration. BaseURL, header values and param values may contain
// ${path} placeholders resolved at proxy time.
type RequestConfig struct {
	BaseURL string            `json:"baseURL"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params"`
}

// OAuth1Config carries the endpoints and knobs of an OAuth1 integration.
type OAuth1Config struct {
	RequestTokenURL      string            `json:"requestTokenURL"`
	AccessTokenURL       string            `json:"accessTokenURL"`
	UserAuthorizationURL string            `json:"userAuthorizationURL"`
	SignatureMethod      SignatureMethod   `json:"signatureMethod,omitempty"`
	AuthorizationParams  map[string]string `json:"authorizationParams,omitempty"`
	TokenParams          map[string]string `json:"tokenParams,omitempty"`
}

// OAuth2Config carries the endpoints and knobs of an OAuth2 integration.
type OAuth2Config struct {
	AuthorizationURL    string              `json:"authorizationURL"`
	TokenURL            string              `json:"tokenURL"`
	RefreshURL          string              `json:"refreshURL,omitempty"`
	GrantType           GrantType           `json:"grantType,omitempty"`
	AuthorizationMethod AuthorizationMethod `json:"authorizationMethod,omitempty"`
	BodyFormat          BodyFormat          `json:"bodyFormat,omitempty"`
	AuthorizationParams map[string]string   `json:"authorizationParams,omitempty"`
	TokenParams         map[string]string   `json:"tokenParams,omitempty"`
	Scope               []string            `json:"scope,omitempty"`
}

// Integration is one static third-party API definition. Instances are
// loaded from the definitions directory at startup and are read-only at
// request time.
type Integration struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	AuthType AuthType      `json:"authType"`
	OAuth1   *OAuth1Config `json:"oauth1,omitempty"`
	OAuth2   *OAuth2Config `json:"oauth2,omitempty"`
	Request  RequestConfig `json:"request"`
}

// SetupKeyLabel is the display label for the first credential field.
// Presentation only, no behavioral significance.
func (i Integration) SetupKeyLabel() string {
	switch i.AuthType {
	case AuthTypeOAuth1:
		return "Consumer Key"
	case AuthTypeOAuth2:
		return "Client ID"
	default:
		return "API Key"
	}
}

// SetupSecretLabel is the display label for the second credential field.
func (i Integration) SetupSecretLabel() string {
	switch i.AuthType {
	case AuthTypeOAuth1:
		return "Consumer Secret"
	case AuthTypeOAuth2:
		return "Client Secret"
	default:
		return "API Secret"
	}
}
