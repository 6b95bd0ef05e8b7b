package bots

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepository keeps configurations in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	configs map[string]Configuration
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{configs: make(map[string]Configuration)}
}

func (r *MemoryRepository) Get(_ context.Context, botID string) (Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[botID]
	if !ok {
		return Configuration{}, ErrNotFound
	}
	return cfg, nil
}

func (r *MemoryRepository) Put(_ context.Context, cfg Configuration) error {
	if cfg.ID == "" {
		return errors.New("bots: id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = cfg
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Configuration, error) {
	r.mu.RLock()
	out := make([]Configuration, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
