package market

import (
	"fmt"
	"sort"
	"sync"
)

// ProtocolInfo describes a known external venue for the API surface
type ProtocolInfo struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"` // "lending", "derivative", "swap"
	BaseAPYBps    int64  `json:"base_apy_bps"`
	RiskFactorBps int64  `json:"risk_factor_bps"`
	TVLCapacity   int64  `json:"tvl_capacity"`
}

// Registry maps backend names to adapter bundles and their metadata.
// The lending backend is selected once at configuration time; there is no
// per-call branching on venue.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]Adapters
	protocols map[string]ProtocolInfo
}

func NewRegistry() *Registry {
	return &Registry{
		backends:  make(map[string]Adapters),
		protocols: make(map[string]ProtocolInfo),
	}
}

// RegisterBackend adds a named adapter bundle
func (r *Registry) RegisterBackend(name string, adapters Adapters, info ProtocolInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = adapters
	r.protocols[name] = info
}

// Backend resolves a configured backend name
func (r *Registry) Backend(name string) (Adapters, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters, ok := r.backends[name]
	if !ok {
		return Adapters{}, fmt.Errorf("unknown backend %q", name)
	}
	return adapters, nil
}

// Protocols returns metadata for all registered venues, sorted by name
func (r *Registry) Protocols() []ProtocolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProtocolInfo, 0, len(r.protocols))
	for _, info := range r.protocols {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
