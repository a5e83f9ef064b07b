package service_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
)

func newTestRegistry(t *testing.T, integrations ...domain.Integration) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, integration := range integrations {
		raw, err := json.Marshal(integration)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, integration.ID+".json"), raw, 0o600))
	}
	return registry.New(dir, zap.NewNop())
}

type memoryConfigRepo struct {
	configs []domain.Configuration
}

func (m *memoryConfigRepo) Get(ctx context.Context, buid, setupID string) (domain.Configuration, error) {
	for _, cfg := range m.configs {
		if cfg.Buid == buid && cfg.SetupID == setupID {
			return cfg, nil
		}
	}
	return domain.Configuration{}, domain.ErrConfigurationNotFound
}

func (m *memoryConfigRepo) Latest(ctx context.Context, buid string) (domain.Configuration, error) {
	var (
		latest domain.Configuration
		found  bool
	)
	for _, cfg := range m.configs {
		if cfg.Buid != buid {
			continue
		}
		if !found || cfg.UpdatedAt.After(latest.UpdatedAt) || cfg.UpdatedAt.Equal(latest.UpdatedAt) {
			latest = cfg
			found = true
		}
	}
	if !found {
		return domain.Configuration{}, domain.ErrConfigurationNotFound
	}
	return latest, nil
}

func (m *memoryConfigRepo) List(ctx context.Context, buid string) ([]domain.Configuration, error) {
	var out []domain.Configuration
	for _, cfg := range m.configs {
		if cfg.Buid == buid {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *memoryConfigRepo) Insert(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	m.configs = append(m.configs, cfg)
	return cfg, nil
}

func (m *memoryConfigRepo) Update(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	for i, existing := range m.configs {
		if existing.Buid == cfg.Buid && existing.SetupID == cfg.SetupID {
			m.configs[i] = cfg
			return cfg, nil
		}
	}
	return domain.Configuration{}, domain.ErrConfigurationNotFound
}

func (m *memoryConfigRepo) Delete(ctx context.Context, buid, setupID string) error {
	for i, existing := range m.configs {
		if existing.Buid == buid && existing.SetupID == setupID {
			m.configs = append(m.configs[:i], m.configs[i+1:]...)
			return nil
		}
	}
	return domain.ErrConfigurationNotFound
}

type memoryAuthRepo struct {
	auths map[string]domain.Authentication
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{auths: map[string]domain.Authentication{}}
}

func (m *memoryAuthRepo) key(buid, authID string) string { return buid + "/" + authID }

func (m *memoryAuthRepo) Get(ctx context.Context, buid, authID string) (domain.Authentication, error) {
	auth, ok := m.auths[m.key(buid, authID)]
	if !ok {
		return domain.Authentication{}, domain.ErrAuthenticationNotFound
	}
	return auth, nil
}

func (m *memoryAuthRepo) Upsert(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	m.auths[m.key(auth.Buid, auth.AuthID)] = auth
	return auth, nil
}

func (m *memoryAuthRepo) Update(ctx context.Context, auth domain.Authentication) (domain.Authentication, error) {
	key := m.key(auth.Buid, auth.AuthID)
	if _, ok := m.auths[key]; !ok {
		return domain.Authentication{}, domain.ErrAuthenticationNotFound
	}
	m.auths[key] = auth
	return auth, nil
}

func (m *memoryAuthRepo) Delete(ctx context.Context, buid, authID string) error {
	key := m.key(buid, authID)
	if _, ok := m.auths[key]; !ok {
		return domain.ErrAuthenticationNotFound
	}
	delete(m.auths, key)
	return nil
}

type memorySessionStore struct {
	sessions map[string]domain.ConnectSession
	deleted  []string
	saveErr  error
	delErr   error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]domain.ConnectSession{}}
}

func (m *memorySessionStore) Save(ctx context.Context, id string, session domain.ConnectSession, ttl time.Duration) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[id] = session
	return nil
}

func (m *memorySessionStore) Get(ctx context.Context, id string) (domain.ConnectSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return domain.ConnectSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (m *memorySessionStore) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.sessions, id)
	return nil
}
