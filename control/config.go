// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe attribute store with change propagation.

package control

import (
	"maps"
	"sync"
)

// ConfigStore is a dynamic key/value map with snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(changed map[string]any)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// Get returns a single value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// Set stores one value and notifies listeners.
func (cs *ConfigStore) Set(key string, value any) {
	cs.SetConfig(map[string]any{key: value})
}

// SetConfig merges new values and notifies listeners with the merged keys.
// Listeners run on the caller's goroutine after the store is unlocked.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	if len(newCfg) == 0 {
		return
	}
	cs.mu.Lock()
	maps.Copy(cs.config, newCfg)
	listeners := cs.listeners
	cs.mu.Unlock()
	changed := maps.Clone(newCfg)
	for _, fn := range listeners {
		fn(changed)
	}
}

// OnReload registers a listener called on config changes.
func (cs *ConfigStore) OnReload(fn func(changed map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners[:len(cs.listeners):len(cs.listeners)], fn)
}
