// Package registry loads and caches the static integration definitions
// the gateway serves. Definitions are JSON documents, one file per
// integration, read from a directory at startup and reloadable on
// demand.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// Registry resolves integration definitions by id. Lookups are served
// from an in-memory cache populated lazily from the definitions
// directory; the cache only changes through Reload.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	cache  map[string]domain.Integration
	loaded bool
}

// New creates a registry over a directory of <id>.json definitions.
func New(dir string, logger *zap.Logger) *Registry {
	return &Registry{dir: dir, logger: logger, cache: make(map[string]domain.Integration)}
}

// Get returns the definition for id, or domain.ErrIntegrationNotFound.
func (r *Registry) Get(id string) (domain.Integration, error) {
	r.mu.RLock()
	if integration, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return integration, nil
	}
	loaded := r.loaded
	r.mu.RUnlock()

	if loaded {
		return domain.Integration{}, fmt.Errorf("%q: %w", id, domain.ErrIntegrationNotFound)
	}
	if err := r.Reload(); err != nil {
		return domain.Integration{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	integration, ok := r.cache[id]
	if !ok {
		return domain.Integration{}, fmt.Errorf("%q: %w", id, domain.ErrIntegrationNotFound)
	}
	return integration, nil
}

// List returns every known definition, ordered by id.
func (r *Registry) List() ([]domain.Integration, error) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		if err := r.Reload(); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Integration, 0, len(r.cache))
	for _, integration := range r.cache {
		out = append(out, integration)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reload re-reads the definitions directory, replacing the cache
// wholesale. Files that fail to parse are skipped with a log line so a
// single broken definition cannot take the gateway down.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	cache := make(map[string]domain.Integration, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read definition %s: %w", entry.Name(), err)
		}
		var integration domain.Integration
		if err := json.Unmarshal(raw, &integration); err != nil {
			r.log().Warn("skipping unparseable integration definition",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if integration.ID == "" {
			integration.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		cache[integration.ID] = integration
	}

	r.mu.Lock()
	r.cache = cache
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
