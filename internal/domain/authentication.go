package domain

import "time"

// NoValue marks an OAuth2 payload field the provider never issued
// (e.g. a missing refresh token). Stored verbatim so a payload read
// back from the database is distinguishable from an empty update.
const NoValue = "non"

// Payload is the normalized, storable credential bag of an
// Authentication. OAuth2 connections populate AccessToken,
// RefreshToken, IDToken, IDTokenJwt, ClientID and ClientSecret; OAuth1
// connections populate AccessToken, TokenSecret, ConsumerKey and
// ConsumerSecret.
//
// ExpiresIn conventions differ per auth type and are preserved from
// provider behavior on purpose: OAuth1 encodes "never expires" as 0
// (including unparseable responses), OAuth2 uses 0 for "unknown", which
// disables the expiry check entirely.
type Payload struct {
	AccessToken string `json:"accessToken,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`

	// OAuth2
	RefreshToken string         `json:"refreshToken,omitempty"`
	IDToken      string         `json:"idToken,omitempty"`
	IDTokenJwt   map[string]any `json:"idTokenJwt,omitempty"`
	ClientID     string         `json:"clientID,omitempty"`
	ClientSecret string         `json:"clientSecret,omitempty"`

	// OAuth1
	TokenSecret    string `json:"tokenSecret,omitempty"`
	ConsumerKey    string `json:"consumerKey,omitempty"`
	ConsumerSecret string `json:"consumerSecret,omitempty"`

	ServiceName   string            `json:"serviceName,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	SetupID       string            `json:"setupId,omitempty"`
	UpdatedAt     int64             `json:"updatedAt,omitempty"`
	Scopes        []string          `json:"scopes,omitempty"`
	ConnectParams map[string]string `json:"connectParams,omitempty"`

	// TokenResponseJSON is the raw provider token response, merged
	// recursively across refreshes so fields a provider only sends once
	// survive. CallbackParamsJSON is the raw callback query, captured
	// once at creation and carried forward unchanged.
	TokenResponseJSON  string `json:"tokenResponseJSON,omitempty"`
	CallbackParamsJSON string `json:"callbackParamsJSON,omitempty"`
}

// HasRefreshToken reports whether the payload carries a usable OAuth2
// refresh token, treating the NoValue sentinel as absent.
func (p Payload) HasRefreshToken() bool {
	return p.RefreshToken != "" && p.RefreshToken != NoValue
}

// Authentication is one end user's connection to one integration,
// created on a successful OAuth callback and updated in place on token
// refresh. Expiry is always computed from UpdatedAt, never from the
// issuance time the provider reports; only the local write timestamp is
// durably trustworthy.
type Authentication struct {
	Buid      string    `json:"buid"`
	AuthID    string    `json:"authId"`
	SetupID   string    `json:"setupId"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
