package domain

import "time"

// Credentials is one OAuth client-credential set. OAuth2 configurations
// populate ClientID/ClientSecret, OAuth1 configurations populate
// ConsumerKey/ConsumerSecret. The shape is validated against the
// integration's auth type at save time, never at read time.
type Credentials struct {
	ClientID       string `json:"clientId,omitempty"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	ConsumerKey    string `json:"consumerKey,omitempty"`
	ConsumerSecret string `json:"consumerSecret,omitempty"`
}

// Configuration is one operator-created credential set for an
// integration. Several may exist per integration; lookups without an
// explicit setup id resolve the most recently updated one.
type Configuration struct {
	Buid        string      `json:"buid"`
	SetupID     string      `json:"setupId"`
	Credentials Credentials `json:"credentials"`
	Scopes      []string    `json:"scopes"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
