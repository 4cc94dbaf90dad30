package service

import (
	"runtime"
	"sync"
	"weak"
)

// Registry associates service instances with the hosts that serve them, for
// example a daemon server. The association is weak: a host that becomes
// unreachable eventually has its instance closed. Release closes it immediately.
type Registry[H any] struct {
	mu        sync.Mutex
	instances map[weak.Pointer[H]]*registration
}

type registration struct {
	service *Service
	cleanup runtime.Cleanup
}

// NewRegistry creates an empty registry.
func NewRegistry[H any]() *Registry[H] {
	return &Registry[H]{instances: make(map[weak.Pointer[H]]*registration)}
}

// Get returns the instance of host, creating it with create on first use.
func (r *Registry[H]) Get(host *H, create func() (*Service, error)) (*Service, error) {
	key := weak.Make(host)

	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.instances[key]; ok {
		return reg.service, nil
	}

	svc, err := create()
	if err != nil {
		return nil, err
	}
	r.instances[key] = &registration{
		service: svc,
		cleanup: runtime.AddCleanup(host, r.collected, key),
	}
	return svc, nil
}

// Lookup returns the instance of host without creating one.
func (r *Registry[H]) Lookup(host *H) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.instances[weak.Make(host)]
	if !ok {
		return nil, false
	}
	return reg.service, true
}

// Release closes and forgets the instance of host. Releasing a host without an
// instance, or releasing twice, does nothing.
func (r *Registry[H]) Release(host *H) error {
	reg := r.remove(weak.Make(host))
	if reg == nil {
		return nil
	}
	reg.cleanup.Stop()
	return reg.service.Close()
}

// Len returns the number of live associations.
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *Registry[H]) collected(key weak.Pointer[H]) {
	if reg := r.remove(key); reg != nil {
		reg.service.logger.Warn("service host was collected without releasing its instance")
		// Cleanups share one goroutine; draining the pools must not hold it.
		go func() { _ = reg.service.Close() }()
	}
}

func (r *Registry[H]) remove(key weak.Pointer[H]) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.instances[key]
	if !ok {
		return nil
	}
	delete(r.instances, key)
	return reg
}
