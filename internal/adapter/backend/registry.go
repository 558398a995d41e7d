package backend

import (
	"fmt"
	"sync"

	"github.com/openjproxy/ojp/internal/core/ports"
)

// Registry maps driver names to backend drivers. Adapters register at
// start-up; the memory driver is always present.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]ports.BackendDriver
}

func NewRegistry() *Registry {
	r := &Registry{drivers: make(map[string]ports.BackendDriver)}
	r.Register(NewMemoryDriver())
	return r
}

func (r *Registry) Register(driver ports.BackendDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver.Name()] = driver
}

func (r *Registry) Get(name string) (ports.BackendDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("backend: unknown driver %q", name)
	}
	return driver, nil
}

func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}
