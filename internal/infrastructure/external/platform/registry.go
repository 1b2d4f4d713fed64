// Package platform holds the ad platform adapters that report external spend.
package platform

import (
	"sort"
	"sync"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
)

// Registry maps channels to their platform adapter
type Registry struct {
	mu       sync.RWMutex
	adapters map[int64]port.PlatformAdapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[int64]port.PlatformAdapter),
	}
}

// Register binds an adapter to a channel, replacing any previous binding
func (r *Registry) Register(channelID int64, adapter port.PlatformAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[channelID] = adapter
}

// Adapter returns the adapter registered for the channel
func (r *Registry) Adapter(channelID int64) (port.PlatformAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channelID]
	return a, ok
}

// Channels lists registered channel ids in ascending order
func (r *Registry) Channels() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ port.PlatformRegistry = (*Registry)(nil)
