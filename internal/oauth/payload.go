package oauth

import (
	"encoding/json"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// idTokenSignatureAlgorithms lists the algorithms accepted when parsing
// an id_token. The claims are decoded without verification (the token
// came over TLS from the provider we just authenticated against), so
// the list only gates structural parsing.
var idTokenSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.HS256, jose.HS384, jose.HS512,
}

// ResponseToCredentials normalizes an OAuth2 token result into the
// storable payload shape. Missing refresh and id tokens become the
// NoValue sentinel so their absence survives storage round trips.
func ResponseToCredentials(result TokenResult) domain.Payload {
	payload := domain.Payload{
		AccessToken:  result.AccessToken,
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
	}
	if payload.RefreshToken == "" {
		payload.RefreshToken = domain.NoValue
	}
	if payload.IDToken == "" {
		payload.IDToken = domain.NoValue
	}
	payload.IDTokenJwt = DecodeIDToken(result.IDToken)
	return payload
}

// DecodeIDToken best-effort decodes the claims of an id_token. Any
// failure returns nil; this never blocks an otherwise successful
// handshake.
func DecodeIDToken(idToken string) map[string]any {
	if idToken == "" || idToken == domain.NoValue {
		return nil
	}
	parsed, err := jwt.ParseSigned(idToken, idTokenSignatureAlgorithms)
	if err != nil {
		return nil
	}
	var claims map[string]any
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil
	}
	return claims
}

// MergeTokenResponses merges a fresh raw token response over the
// previously stored one, recursively, with new values winning.
// Providers often send fields only on the first exchange; downstream
// consumers depend on those surviving refreshes.
func MergeTokenResponses(previous, next map[string]any) map[string]any {
	if previous == nil {
		return next
	}
	merged := make(map[string]any, len(previous)+len(next))
	for k, v := range previous {
		merged[k] = v
	}
	for k, v := range next {
		nextMap, nextIsMap := v.(map[string]any)
		prevMap, prevIsMap := merged[k].(map[string]any)
		if nextIsMap && prevIsMap {
			merged[k] = MergeTokenResponses(prevMap, nextMap)
			continue
		}
		merged[k] = v
	}
	return merged
}

// ParseTokenResponseJSON decodes a stored raw token response; a missing
// or malformed document yields nil rather than an error, matching its
// best-effort diagnostic role.
func ParseTokenResponseJSON(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	return decoded
}
