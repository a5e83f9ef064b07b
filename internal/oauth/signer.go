// Package oauth implements the outbound halves of the OAuth1 and
// OAuth2 handshakes: request signing, token exchange and the
// normalization of provider token responses into storable payloads.
package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// Signer produces OAuth1 (RFC 5849) Authorization header values. The
// zero Token/TokenSecret pair signs request-token calls; a populated
// pair signs access-token and proxied API calls.
type Signer struct {
	ConsumerKey     string
	ConsumerSecret  string
	Token           string
	TokenSecret     string
	SignatureMethod domain.SignatureMethod
}

// AuthorizationHeader signs method+rawURL together with extra protocol
// parameters (oauth_callback, oauth_verifier, ...) and returns the full
// value for the Authorization header, "OAuth " prefix included.
func (s Signer) AuthorizationHeader(method, rawURL string, extra map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url for signing: %w", err)
	}

	params := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": string(s.signatureMethod()),
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if s.Token != "" {
		params["oauth_token"] = s.Token
	}
	for k, v := range extra {
		params[k] = v
	}

	signature, err := s.sign(method, u, params)
	if err != nil {
		return "", err
	}
	params["oauth_signature"] = signature

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", percentEncode(k), percentEncode(params[k])))
	}
	return "OAuth " + strings.Join(pairs, ", "), nil
}

func (s Signer) signatureMethod() domain.SignatureMethod {
	if s.SignatureMethod == "" {
		return domain.SignatureMethodHMACSHA1
	}
	return s.SignatureMethod
}

func (s Signer) sign(method string, u *url.URL, oauthParams map[string]string) (string, error) {
	key := percentEncode(s.ConsumerSecret) + "&" + percentEncode(s.TokenSecret)

	switch s.signatureMethod() {
	case domain.SignatureMethodPlaintext:
		return key, nil
	case domain.SignatureMethodHMACSHA1:
		base := signatureBase(method, u, oauthParams)
		mac := hmac.New(sha1.New, []byte(key))
		mac.Write([]byte(base))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unsupported signature method %q", s.SignatureMethod)
	}
}

// signatureBase builds the RFC 5849 §3.4.1 base string: the request
// method, the normalized URL without query, and the sorted
// percent-encoded union of query and protocol parameters.
func signatureBase(method string, u *url.URL, oauthParams map[string]string) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(encoded, "&"))
}

// percentEncode implements the stricter RFC 3986 encoding OAuth1
// requires; url.QueryEscape is not byte-compatible (spaces, tildes).
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			b.WriteString("%" + strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

func nonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
