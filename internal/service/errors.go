package service

import (
	"fmt"
	"net/http"
)

// GatewayError is the single user-facing error shape. Handlers render
// it as {"error": {"code": ..., "message": ...}} with Status; anything
// that is not a *GatewayError becomes a generic 500.
type GatewayError struct {
	Code        string
	Description string
	Status      int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func errUnknownIntegration(buid string) *GatewayError {
	return &GatewayError{
		Code:        "UNKNOWN_INTEGRATION",
		Description: fmt.Sprintf("No integration definition found for %q.", buid),
		Status:      http.StatusNotFound,
	}
}

func errInvalidAPIConfig(buid, detail string) *GatewayError {
	return &GatewayError{
		Code:        "INVALID_API_CONFIG",
		Description: fmt.Sprintf("Integration %q has an invalid configuration: %s", buid, detail),
		Status:      http.StatusUnprocessableEntity,
	}
}

func errMissingConfigHeader(templatePath, variablePath string) *GatewayError {
	return &GatewayError{
		Code:        "MISSING_API_CONFIG_HEADER",
		Description: fmt.Sprintf("The integration template %q references the header %q which was not supplied. Forward it with the Gateway-Proxy- prefix.", templatePath, variablePath),
		Status:      http.StatusBadRequest,
	}
}

func errMissingConnectParam(templatePath, variablePath string) *GatewayError {
	return &GatewayError{
		Code:        "MISSING_API_CONFIG_CONNECT_PARAM",
		Description: fmt.Sprintf("The integration template %q references the connect parameter %q which was not captured at connect time.", templatePath, variablePath),
		Status:      http.StatusBadRequest,
	}
}

func errNoAuthInProgress() *GatewayError {
	return &GatewayError{
		Code:        "NO_AUTH_IN_PROGRESS",
		Description: "No authentication flow is in progress. Start over from the connect endpoint.",
		Status:      http.StatusUnprocessableEntity,
	}
}

func errAuthenticationFailed(detail string) *GatewayError {
	return &GatewayError{
		Code:        "AUTHENTICATION_FAILED",
		Description: detail,
		Status:      http.StatusForbidden,
	}
}

func errAccessTokenExpired() *GatewayError {
	return &GatewayError{
		Code:        "ACCESS_TOKEN_EXPIRED",
		Description: "The access token has expired and no refresh token is available.",
		Status:      http.StatusForbidden,
	}
}

func errRefreshNotSupported() *GatewayError {
	return &GatewayError{
		Code:        "REFRESH_NOT_SUPPORTED",
		Description: "OAuth1 access tokens cannot be refreshed; reconnect to obtain a new token.",
		Status:      http.StatusUnprocessableEntity,
	}
}

func errUnknownAuthentication(authID string) *GatewayError {
	return &GatewayError{
		Code:        "unknown_authentication",
		Description: fmt.Sprintf("No authentication found for auth id %q.", authID),
		Status:      http.StatusNotFound,
	}
}

func errMissingAuthID() *GatewayError {
	return &GatewayError{
		Code:        "MISSING_AUTH_ID",
		Description: "The Gateway-Auth-Id header is required on proxy requests.",
		Status:      http.StatusUnauthorized,
	}
}

func errCredentialsNotConfigured(buid string) *GatewayError {
	return &GatewayError{
		Code:        "CREDENTIALS_NOT_CONFIGURED",
		Description: fmt.Sprintf("No credentials have been configured for %q.", buid),
		Status:      http.StatusUnprocessableEntity,
	}
}

func errInvalidConnectParam(name string) *GatewayError {
	return &GatewayError{
		Code:        "INVALID_CONNECT_PARAM",
		Description: fmt.Sprintf("Connect parameter %q contains unsupported characters.", name),
		Status:      http.StatusBadRequest,
	}
}

func errInvalidConfiguration(detail string) *GatewayError {
	return &GatewayError{
		Code:        "INVALID_CONFIGURATION",
		Description: detail,
		Status:      http.StatusBadRequest,
	}
}

func errUnknownConfiguration(setupID string) *GatewayError {
	return &GatewayError{
		Code:        "UNKNOWN_CONFIGURATION",
		Description: fmt.Sprintf("No configuration found for setup id %q.", setupID),
		Status:      http.StatusNotFound,
	}
}
