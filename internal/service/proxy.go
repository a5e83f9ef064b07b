package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/interpolate"
	"github.com/smallbiznis/smallbiznis-gateway/internal/oauth"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
)

const (
	// HeaderAuthID identifies the stored authentication a proxy call
	// runs under.
	HeaderAuthID = "Gateway-Auth-Id"
	// ForwardHeaderPrefix marks caller headers that should reach the
	// target API; the prefix is stripped before forwarding.
	ForwardHeaderPrefix = "Gateway-Proxy-"
	// InternalQueryPrefix marks query parameters consumed by the
	// gateway itself; they are stripped before forwarding.
	InternalQueryPrefix = "gateway_"
)

// ProxyInput is one inbound proxy call.
type ProxyInput struct {
	Buid   string
	AuthID string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.Reader
}

// ProxyRequest is the fully resolved outbound request.
type ProxyRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader
}

// ProxyBuilder resolves an integration's request template into a
// concrete outbound request, refreshing credentials on the way.
type ProxyBuilder struct {
	registry  *registry.Registry
	auths     repository.AuthenticationRepository
	refresher *Refresher
	logger    *zap.Logger
}

func NewProxyBuilder(reg *registry.Registry, auths repository.AuthenticationRepository, refresher *Refresher, logger *zap.Logger) *ProxyBuilder {
	return &ProxyBuilder{
		registry:  reg,
		auths:     auths,
		refresher: refresher,
		logger:    logger,
	}
}

// Build loads and freshens the authentication, then interpolates the
// request template. Forwarded headers are visible to the header
// templates; the final merged header values are then visible to
// baseURL, path and params. Both under headers.*, names lowercased.
func (b *ProxyBuilder) Build(ctx context.Context, in ProxyInput) (*ProxyRequest, error) {
	if in.AuthID == "" {
		return nil, errMissingAuthID()
	}
	integration, err := b.registry.Get(in.Buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, errUnknownIntegration(in.Buid)
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}

	auth, err := b.auths.Get(ctx, in.Buid, in.AuthID)
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticationNotFound) {
			return nil, errUnknownAuthentication(in.AuthID)
		}
		return nil, fmt.Errorf("load authentication: %w", err)
	}
	// A stale token is refreshed before anything is interpolated; a
	// refresh failure fails the whole call.
	auth, err = b.refresher.EnsureFresh(ctx, auth, ProxyRefreshMargin)
	if err != nil {
		return nil, err
	}

	vars, err := baseVariables(auth)
	if err != nil {
		return nil, err
	}

	// Caller-forwarded headers are in the bag before the header
	// templates run, so template headers can be derived from them.
	// Header names are exposed lowercased; the wire form is
	// canonicalized and a template cannot be expected to match it.
	forwarded := forwardedHeaders(in.Header)
	headerVars := map[string]any{}
	for k, v := range forwarded {
		headerVars[strings.ToLower(k)] = v
	}
	vars["headers"] = headerVars

	// OAuth1 requests carry a signature over the final method and URL,
	// exposed to the template as auth.oauth1. The URL is resolved once,
	// before the header templates run; signed integrations can derive
	// their URL from forwarded headers but not from template headers.
	var finalURL string
	if integration.AuthType == domain.AuthTypeOAuth1 {
		signedURL, err := b.buildURL(in, integration, vars)
		if err != nil {
			return nil, err
		}
		header, err := oauth1Header(in.Method, signedURL, auth.Payload, integration)
		if err != nil {
			return nil, errInvalidAPIConfig(in.Buid, err.Error())
		}
		vars["auth"].(map[string]any)["oauth1"] = header
		finalURL = signedURL
	}

	templHeaders, err := interpolate.InterpolateStringMap(integration.Request.Headers, "headers", vars)
	if err != nil {
		return nil, b.templateError(in.Buid, err)
	}
	header := http.Header{}
	for k, v := range templHeaders {
		header.Set(k, v)
		headerVars[strings.ToLower(k)] = v
	}
	// Caller-forwarded headers win over template headers.
	for k, v := range forwarded {
		header.Set(k, v)
		headerVars[strings.ToLower(k)] = v
	}

	if finalURL == "" {
		finalURL, err = b.buildURL(in, integration, vars)
		if err != nil {
			return nil, err
		}
	}

	return &ProxyRequest{
		Method: in.Method,
		URL:    finalURL,
		Header: header,
		Body:   in.Body,
	}, nil
}

// forwardedHeaders extracts the caller headers carrying the forward
// prefix, stripped of it. First value wins.
func forwardedHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for k, vs := range h {
		if !strings.HasPrefix(strings.ToLower(k), strings.ToLower(ForwardHeaderPrefix)) {
			continue
		}
		name := k[len(ForwardHeaderPrefix):]
		if name == "" || len(vs) == 0 {
			continue
		}
		out[name] = vs[0]
	}
	return out
}

// buildURL interpolates baseURL, path and params and assembles the
// target URL, merging the caller's own query string minus internal
// parameters.
func (b *ProxyBuilder) buildURL(in ProxyInput, integration domain.Integration, vars interpolate.Variables) (string, error) {
	baseURL, err := interpolate.InterpolateString(integration.Request.BaseURL, "baseURL", vars)
	if err != nil {
		return "", b.templateError(in.Buid, err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", errInvalidAPIConfig(in.Buid, fmt.Sprintf("invalid baseURL %q", baseURL))
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	subPath, err := interpolate.InterpolateString(strings.TrimPrefix(in.Path, "/"), "path", vars)
	if err != nil {
		return "", b.templateError(in.Buid, err)
	}
	ref, err := url.Parse(subPath)
	if err != nil {
		return "", errInvalidAPIConfig(in.Buid, fmt.Sprintf("invalid request path %q", subPath))
	}
	target := base.ResolveReference(ref)

	params, err := interpolate.InterpolateStringMap(integration.Request.Params, "params", vars)
	if err != nil {
		return "", b.templateError(in.Buid, err)
	}

	query := target.Query()
	for k, vs := range in.Query {
		if strings.HasPrefix(strings.ToLower(k), InternalQueryPrefix) {
			continue
		}
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	for k, v := range params {
		query.Set(k, v)
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}

// templateError maps interpolation failures to the taxonomy by the
// root of the variable path that failed.
func (b *ProxyBuilder) templateError(buid string, err error) error {
	var undef *interpolate.UndefinedVariableError
	if !errors.As(err, &undef) {
		return fmt.Errorf("interpolate request template: %w", err)
	}
	switch pathRoot(undef.VariablePath) {
	case "headers":
		return errMissingConfigHeader(undef.TemplatePath, undef.VariablePath)
	case "connectParams":
		return errMissingConnectParam(undef.TemplatePath, undef.VariablePath)
	default:
		return errInvalidAPIConfig(buid, fmt.Sprintf("template %q references unknown variable %q", undef.TemplatePath, undef.VariablePath))
	}
}

// baseVariables builds the interpolation bag: the stored payload under
// auth (connect params pulled out under their own root) plus the
// connect params themselves.
func baseVariables(auth domain.Authentication) (interpolate.Variables, error) {
	raw, err := json.Marshal(auth.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	authMap := map[string]any{}
	if err := json.Unmarshal(raw, &authMap); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	delete(authMap, "connectParams")

	connectParams := map[string]any{}
	for k, v := range auth.Payload.ConnectParams {
		connectParams[k] = v
	}
	return interpolate.Variables{
		"auth":          authMap,
		"connectParams": connectParams,
	}, nil
}

func oauth1Header(method, rawURL string, payload domain.Payload, integration domain.Integration) (string, error) {
	signer := oauth.Signer{
		ConsumerKey:    payload.ConsumerKey,
		ConsumerSecret: payload.ConsumerSecret,
		Token:          payload.AccessToken,
		TokenSecret:    payload.TokenSecret,
	}
	if integration.OAuth1 != nil {
		signer.SignatureMethod = integration.OAuth1.SignatureMethod
	}
	return signer.AuthorizationHeader(method, rawURL, nil)
}

// Forwarder performs the outbound call and relays the response.
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

func NewForwarder(client *http.Client, logger *zap.Logger) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{client: client, logger: logger}
}

// hopByHopHeaders never travel across the proxy boundary.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Do executes the resolved request and streams status, headers and
// body into w.
func (f *Forwarder) Do(ctx context.Context, req *ProxyRequest, w http.ResponseWriter) error {
	outbound, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			outbound.Header.Add(k, v)
		}
	}
	if outbound.Header.Get("User-Agent") == "" {
		outbound.Header.Set("User-Agent", "smallbiznis-gateway")
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	respHeader := resp.Header.Clone()
	for _, h := range hopByHopHeaders {
		respHeader.Del(h)
	}
	for k, vs := range respHeader {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.log().Warn("response relay interrupted", zap.Error(err))
	}
	return nil
}

func (f *Forwarder) log() *zap.Logger {
	if f != nil && f.logger != nil {
		return f.logger
	}
	return zap.L()
}
