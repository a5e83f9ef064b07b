package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/repository"
)

// ConfigurationService manages operator-created credential sets for an
// integration.
type ConfigurationService interface {
	List(ctx context.Context, buid string) ([]domain.Configuration, error)
	Get(ctx context.Context, buid, setupID string) (domain.Configuration, error)
	Create(ctx context.Context, buid string, in ConfigurationInput) (domain.Configuration, error)
	Update(ctx context.Context, buid, setupID string, in ConfigurationInput) (domain.Configuration, error)
	Delete(ctx context.Context, buid, setupID string) error
}

// ConfigurationInput is the writable part of a configuration.
type ConfigurationInput struct {
	SetupID     string             `json:"setupId,omitempty"`
	Credentials domain.Credentials `json:"credentials"`
	Scopes      []string           `json:"scopes"`
}

type configurationService struct {
	registry *registry.Registry
	configs  repository.ConfigurationRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewConfigurationService(reg *registry.Registry, configs repository.ConfigurationRepository, logger *zap.Logger) ConfigurationService {
	return &configurationService{
		registry: reg,
		configs:  configs,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *configurationService) List(ctx context.Context, buid string) ([]domain.Configuration, error) {
	if _, err := s.integration(buid); err != nil {
		return nil, err
	}
	list, err := s.configs.List(ctx, buid)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return list, nil
}

func (s *configurationService) Get(ctx context.Context, buid, setupID string) (domain.Configuration, error) {
	if _, err := s.integration(buid); err != nil {
		return domain.Configuration{}, err
	}
	cfg, err := s.configs.Get(ctx, buid, setupID)
	if err != nil {
		if errors.Is(err, domain.ErrConfigurationNotFound) {
			return domain.Configuration{}, errUnknownConfiguration(setupID)
		}
		return domain.Configuration{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (s *configurationService) Create(ctx context.Context, buid string, in ConfigurationInput) (domain.Configuration, error) {
	integration, err := s.integration(buid)
	if err != nil {
		return domain.Configuration{}, err
	}
	if err := validateInput(integration, in); err != nil {
		return domain.Configuration{}, err
	}

	setupID := strings.TrimSpace(in.SetupID)
	if setupID == "" {
		setupID = uuid.NewString()
	}
	now := s.now().UTC()
	created, err := s.configs.Insert(ctx, domain.Configuration{
		Buid:        buid,
		SetupID:     setupID,
		Credentials: in.Credentials,
		Scopes:      in.Scopes,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("insert configuration: %w", err)
	}
	return created, nil
}

func (s *configurationService) Update(ctx context.Context, buid, setupID string, in ConfigurationInput) (domain.Configuration, error) {
	integration, err := s.integration(buid)
	if err != nil {
		return domain.Configuration{}, err
	}
	if err := validateInput(integration, in); err != nil {
		return domain.Configuration{}, err
	}

	existing, err := s.configs.Get(ctx, buid, setupID)
	if err != nil {
		if errors.Is(err, domain.ErrConfigurationNotFound) {
			return domain.Configuration{}, errUnknownConfiguration(setupID)
		}
		return domain.Configuration{}, fmt.Errorf("load configuration: %w", err)
	}

	existing.Credentials = in.Credentials
	existing.Scopes = in.Scopes
	existing.UpdatedAt = s.now().UTC()
	updated, err := s.configs.Update(ctx, existing)
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("update configuration: %w", err)
	}
	return updated, nil
}

func (s *configurationService) Delete(ctx context.Context, buid, setupID string) error {
	if _, err := s.integration(buid); err != nil {
		return err
	}
	if err := s.configs.Delete(ctx, buid, setupID); err != nil {
		if errors.Is(err, domain.ErrConfigurationNotFound) {
			return errUnknownConfiguration(setupID)
		}
		return fmt.Errorf("delete configuration: %w", err)
	}
	return nil
}

func (s *configurationService) integration(buid string) (domain.Integration, error) {
	integration, err := s.registry.Get(buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return domain.Integration{}, errUnknownIntegration(buid)
		}
		return domain.Integration{}, fmt.Errorf("load integration: %w", err)
	}
	return integration, nil
}

func validateInput(integration domain.Integration, in ConfigurationInput) error {
	for _, scope := range in.Scopes {
		if strings.TrimSpace(scope) == "" {
			return errInvalidConfiguration("Scopes must be a list of non-empty strings.")
		}
	}
	return validateCredentialShape(integration, in.Credentials)
}
