package papersources

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Service is a configured remote bibliographic service.
type Service interface {
	// Name returns a stable name used for logging, metrics and the API.
	Name() string

	// IsEnabled reports whether the service is configured for use.
	IsEnabled() bool
}

// Prober is implemented by services that can cheaply check reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeResult holds the outcome of probing one service.
type ProbeResult struct {
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// Registry tracks the configured remote services.
// It provides thread-safe registration and retrieval, and concurrent probing.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry creates a new registry with an empty service map.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Service),
	}
}

// Register adds a service to the registry.
// If a service with the same name already exists, it will be replaced.
func (r *Registry) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.Name()] = s
}

// Get returns a service by name, or nil if not found.
func (r *Registry) Get(name string) Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// All returns every registered service sorted by name.
// The returned slice is a snapshot.
func (r *Registry) All() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Enabled returns only enabled services sorted by name.
func (r *Registry) Enabled() []Service {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// ProbeAll probes every enabled service that implements Prober concurrently.
// Disabled services and services without a probe are reported without a call.
// Results are sorted by name.
func (r *Registry) ProbeAll(ctx context.Context) []ProbeResult {
	services := r.All()
	if len(services) == 0 {
		return nil
	}

	results := make([]ProbeResult, len(services))
	var wg sync.WaitGroup

	for i, s := range services {
		results[i] = ProbeResult{Name: s.Name(), Enabled: s.IsEnabled()}
		p, ok := s.(Prober)
		if !s.IsEnabled() || !ok {
			results[i].Healthy = s.IsEnabled()
			continue
		}

		wg.Add(1)
		go func(i int, p Prober) {
			defer wg.Done()

			start := time.Now()
			err := p.Probe(ctx)
			results[i].Latency = time.Since(start)
			if err != nil {
				results[i].Error = err.Error()
				return
			}
			results[i].Healthy = true
		}(i, p)
	}

	wg.Wait()
	return results
}
