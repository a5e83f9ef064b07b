package oauth

import "fmt"

// AuthenticationError normalizes every way a provider handshake can
// fail: 4xx/5xx token responses, transport errors, and success
// responses that omit the access token. Body preserves the raw
// provider response for diagnostics.
type AuthenticationError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed: %s (status %d): %s", e.Message, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}
