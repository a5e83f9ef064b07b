package domain

import "time"

// ConnectSession correlates the connect redirect with the provider
// callback for one OAuth round trip. It lives in the session store for
// the duration of the handshake only, keyed by an opaque cookie-carried
// session id.
type ConnectSession struct {
	Buid          string            `json:"buid"`
	SetupID       string            `json:"setupId,omitempty"`
	AuthID        string            `json:"authId,omitempty"`
	ConnectParams map[string]string `json:"connectParams,omitempty"`

	// OAuth1 request token state captured between connect and callback.
	RequestToken       string `json:"requestToken,omitempty"`
	RequestTokenSecret string `json:"requestTokenSecret,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
