package storage

import (
	"context"
	"sync"

	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

// MemoryDeviceStore is an in-process DeviceStore backed by a map,
// useful for tests and single-node deployments that front it with a
// real database later.
type MemoryDeviceStore struct {
	mu       sync.RWMutex
	devices  map[ids.DeviceId]model.DeviceDescriptor
}

func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: make(map[ids.DeviceId]model.DeviceDescriptor)}
}

func (s *MemoryDeviceStore) Get(_ context.Context, id ids.DeviceId) (model.DeviceDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return model.DeviceDescriptor{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryDeviceStore) Put(_ context.Context, descriptor model.DeviceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[descriptor.DeviceId] = descriptor
	return nil
}

// MemoryAuthStore is an in-process AuthStore backed by a map.
type MemoryAuthStore struct {
	mu      sync.RWMutex
	entries map[ids.DeviceId]model.LocalAuthenticationEntry
}

func NewMemoryAuthStore() *MemoryAuthStore {
	return &MemoryAuthStore{entries: make(map[ids.DeviceId]model.LocalAuthenticationEntry)}
}

func (s *MemoryAuthStore) Get(_ context.Context, remote ids.DeviceId) (model.LocalAuthenticationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[remote]
	if !ok {
		return model.LocalAuthenticationEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryAuthStore) Put(_ context.Context, entry model.LocalAuthenticationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.RemoteDeviceId] = entry
	return nil
}
