package apps

import (
	"context"
	"sync"
)

// StaticManager serves a fixed list of apps, typically from the config file.
// Replace swaps the whole list atomically, which is how config reloads land.
type StaticManager struct {
	mu    sync.RWMutex
	byID  map[string]*App
	byKey map[string]*App
}

// NewStaticManager creates a manager over apps
func NewStaticManager(apps []App) *StaticManager {
	m := &StaticManager{}
	m.Replace(apps)
	return m
}

// Replace swaps the served app list
func (m *StaticManager) Replace(apps []App) {
	byID := make(map[string]*App, len(apps))
	byKey := make(map[string]*App, len(apps))
	for i := range apps {
		app := apps[i]
		byID[app.ID] = &app
		byKey[app.Key] = &app
	}

	m.mu.Lock()
	m.byID = byID
	m.byKey = byKey
	m.mu.Unlock()
}

func (m *StaticManager) FindByID(_ context.Context, id string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *StaticManager) FindByKey(_ context.Context, key string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

var _ Manager = (*StaticManager)(nil)
