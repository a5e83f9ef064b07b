package oauth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

func unverifiedJWT(t *testing.T, claims string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + enc.EncodeToString([]byte(claims)) + "." + enc.EncodeToString([]byte("sig"))
}

func TestResponseToCredentialsSentinels(t *testing.T) {
	payload := ResponseToCredentials(TokenResult{AccessToken: "tok1", ExpiresIn: 3600})
	require.Equal(t, "tok1", payload.AccessToken)
	require.Equal(t, domain.NoValue, payload.RefreshToken)
	require.Equal(t, domain.NoValue, payload.IDToken)
	require.Nil(t, payload.IDTokenJwt)
	require.False(t, payload.HasRefreshToken())
}

func TestResponseToCredentialsDecodesIDToken(t *testing.T) {
	idToken := unverifiedJWT(t, `{"sub":"user-1","email":"u@example.com"}`)
	payload := ResponseToCredentials(TokenResult{
		AccessToken:  "tok1",
		RefreshToken: "ref1",
		IDToken:      idToken,
	})
	require.Equal(t, "ref1", payload.RefreshToken)
	require.True(t, payload.HasRefreshToken())
	require.Equal(t, idToken, payload.IDToken)
	require.Equal(t, "user-1", payload.IDTokenJwt["sub"])
	require.Equal(t, "u@example.com", payload.IDTokenJwt["email"])
}

func TestDecodeIDTokenGarbage(t *testing.T) {
	require.Nil(t, DecodeIDToken(""))
	require.Nil(t, DecodeIDToken(domain.NoValue))
	require.Nil(t, DecodeIDToken("not-a-jwt"))
	require.Nil(t, DecodeIDToken("a.b.c"))
}

func TestMergeTokenResponses(t *testing.T) {
	previous := map[string]any{
		"body": map[string]any{
			"access_token": "old",
			"instance_url": "https://acme.my.salesforce.example",
		},
		"headers": map[string]any{"content-type": "application/json"},
	}
	next := map[string]any{
		"body": map[string]any{"access_token": "new"},
	}

	merged := MergeTokenResponses(previous, next)

	body, ok := merged["body"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "new", body["access_token"])
	require.Equal(t, "https://acme.my.salesforce.example", body["instance_url"])
	require.Equal(t, map[string]any{"content-type": "application/json"}, merged["headers"])

	// inputs are left untouched
	require.Equal(t, "old", previous["body"].(map[string]any)["access_token"])
}

func TestMergeTokenResponsesNilPrevious(t *testing.T) {
	next := map[string]any{"body": map[string]any{"access_token": "new"}}
	require.Equal(t, next, MergeTokenResponses(nil, next))
}

func TestMergeTokenResponsesTypeMismatch(t *testing.T) {
	previous := map[string]any{"scope": map[string]any{"granted": "read"}}
	next := map[string]any{"scope": "read write"}
	require.Equal(t, "read write", MergeTokenResponses(previous, next)["scope"])
}

func TestParseTokenResponseJSON(t *testing.T) {
	require.Nil(t, ParseTokenResponseJSON(""))
	require.Nil(t, ParseTokenResponseJSON("{broken"))
	require.Equal(t, map[string]any{"a": "b"}, ParseTokenResponseJSON(`{"a":"b"}`))
}
