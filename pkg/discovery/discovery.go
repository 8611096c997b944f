// Package discovery remembers which candidate base path last served each
// capability.
//
// The memory is operator-facing diagnostics only. Probing never consults it;
// candidate order stays configuration-driven, so a transient success on a
// fallback path cannot reshuffle later probes.
package discovery

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Route records where one capability was last served from.
type Route struct {
	Capability string    `json:"capability"`
	BasePath   string    `json:"basePath"`
	Misses     int       `json:"misses"`
	ObservedAt time.Time `json:"observedAt"`
	// Observations counts consecutive probes that landed on this base
	// path. It resets when the winner moves.
	Observations int `json:"observations"`
}

// Memory is a bounded, concurrency-safe record of recent probe outcomes.
type Memory struct {
	cache *lru.Cache[string, Route]
}

// NewMemory creates a Memory that keeps the most recently probed size
// capabilities.
func NewMemory(size int) (*Memory, error) {
	cache, err := lru.New[string, Route](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create route memory: %w", err)
	}
	return &Memory{cache: cache}, nil
}

// Record notes that capability was served from basePath after misses failed
// candidates.
func (m *Memory) Record(capability, basePath string, misses int) {
	route := Route{
		Capability:   capability,
		BasePath:     basePath,
		Misses:       misses,
		ObservedAt:   time.Now(),
		Observations: 1,
	}
	if prev, ok := m.cache.Peek(capability); ok && prev.BasePath == basePath {
		route.Observations = prev.Observations + 1
	}
	m.cache.Add(capability, route)
}

// Lookup returns the last recorded route for capability.
func (m *Memory) Lookup(capability string) (Route, bool) {
	return m.cache.Peek(capability)
}

// Snapshot returns every remembered route, least recently recorded first.
func (m *Memory) Snapshot() []Route {
	keys := m.cache.Keys()
	routes := make([]Route, 0, len(keys))
	for _, key := range keys {
		if route, ok := m.cache.Peek(key); ok {
			routes = append(routes, route)
		}
	}
	return routes
}

// Len returns how many capabilities are remembered.
func (m *Memory) Len() int {
	return m.cache.Len()
}
