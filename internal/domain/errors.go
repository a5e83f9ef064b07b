package domain

import "errors"

// Sentinel errors shared across stores and services. Handlers map these
// to HTTP statuses; check with errors.Is.
var (
	ErrIntegrationNotFound    = errors.New("integration not found")
	ErrConfigurationNotFound  = errors.New("configuration not found")
	ErrAuthenticationNotFound = errors.New("authentication not found")
	ErrSessionNotFound        = errors.New("connect session not found")
)
