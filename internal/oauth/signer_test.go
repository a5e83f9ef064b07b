package oauth

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

func TestPercentEncode(t *testing.T) {
	require.Equal(t, "abcABC123", percentEncode("abcABC123"))
	require.Equal(t, "-._~", percentEncode("-._~"))
	require.Equal(t, "%20", percentEncode(" "))
	require.Equal(t, "%26%3D%2B", percentEncode("&=+"))
	require.Equal(t, "Ladies%20%2B%20Gentlemen", percentEncode("Ladies + Gentlemen"))
}

func TestAuthorizationHeaderShape(t *testing.T) {
	signer := Signer{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tok", TokenSecret: "ts"}

	header, err := signer.AuthorizationHeader("GET", "https://api.example.com/1/resource?limit=10", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "OAuth "))
	require.Contains(t, header, `oauth_consumer_key="ck"`)
	require.Contains(t, header, `oauth_token="tok"`)
	require.Contains(t, header, `oauth_signature_method="HMAC-SHA1"`)
	require.Contains(t, header, `oauth_version="1.0"`)
	require.Contains(t, header, "oauth_signature=")
}

func TestAuthorizationHeaderPlaintext(t *testing.T) {
	signer := Signer{
		ConsumerKey:     "ck",
		ConsumerSecret:  "c s",
		TokenSecret:     "t&s",
		SignatureMethod: domain.SignatureMethodPlaintext,
	}

	header, err := signer.AuthorizationHeader("POST", "https://api.example.com/token", nil)
	require.NoError(t, err)
	// PLAINTEXT signature is the encoded secret pair, re-encoded as a
	// header parameter value.
	require.Contains(t, header, `oauth_signature="c%2520s%26t%2526s"`)
}

func TestAuthorizationHeaderExtraParams(t *testing.T) {
	signer := Signer{ConsumerKey: "ck", ConsumerSecret: "cs"}

	header, err := signer.AuthorizationHeader("POST", "https://api.example.com/request_token", map[string]string{
		"oauth_callback": "https://gateway.example.com/auth/callback",
	})
	require.NoError(t, err)
	require.Contains(t, header, `oauth_callback="https%3A%2F%2Fgateway.example.com%2Fauth%2Fcallback"`)
	// No token yet on the request-token call.
	require.NotContains(t, header, "oauth_token=")
}

func TestAuthorizationHeaderUnsupportedMethod(t *testing.T) {
	signer := Signer{ConsumerKey: "ck", ConsumerSecret: "cs", SignatureMethod: "RSA-SHA1"}

	_, err := signer.AuthorizationHeader("GET", "https://api.example.com", nil)
	require.Error(t, err)
}

func TestSignatureBaseNormalization(t *testing.T) {
	u, err := url.Parse("HTTPS://API.Example.COM/path?b=2&a=1")
	require.NoError(t, err)

	base := signatureBase("get", u, map[string]string{"oauth_nonce": "n"})
	require.True(t, strings.HasPrefix(base, "GET&https%3A%2F%2Fapi.example.com%2Fpath&"))
	// Parameters are sorted after encoding: a before b before oauth_nonce.
	encodedParams := base[strings.LastIndex(base, "&")+1:]
	require.Equal(t, "a%3D1%26b%3D2%26oauth_nonce%3Dn", encodedParams)
}

func TestSignatureIsDeterministicForFixedInputs(t *testing.T) {
	u, _ := url.Parse("https://api.example.com/r")
	signer := Signer{ConsumerKey: "ck", ConsumerSecret: "cs", TokenSecret: "ts"}
	params := map[string]string{"oauth_nonce": "fixed", "oauth_timestamp": "1000"}

	s1, err := signer.sign("POST", u, params)
	require.NoError(t, err)
	s2, err := signer.sign("POST", u, params)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.NotEmpty(t, s1)
}
