package store

import (
	"sync"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

// PendingCommandTable indexes a DeviceDescriptor snapshot by
// device_id while a command-channel handshake is in flight, with a
// secondary index by the target (ip,port).
type PendingCommandTable struct {
	mu         sync.Mutex
	byDevice   map[ids.DeviceId]*model.DeviceDescriptor
	byEndpoint map[endpointKey]*model.DeviceDescriptor
}

func NewPendingCommandTable() *PendingCommandTable {
	return &PendingCommandTable{
		byDevice:   make(map[ids.DeviceId]*model.DeviceDescriptor),
		byEndpoint: make(map[endpointKey]*model.DeviceDescriptor),
	}
}

func (t *PendingCommandTable) Add(descriptor *model.DeviceDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byDevice[descriptor.DeviceId] = descriptor
	t.byEndpoint[toEndpointKey(descriptor.CommandEndpt)] = descriptor
}

func (t *PendingCommandTable) GetByDevice(id ids.DeviceId) (*model.DeviceDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byDevice[id]
	if !ok {
		return nil, herrors.ErrLookupMiss
	}
	return d, nil
}

func (t *PendingCommandTable) GetByEndpoint(e model.Endpoint) (*model.DeviceDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byEndpoint[toEndpointKey(e)]
	if !ok {
		return nil, herrors.ErrLookupMiss
	}
	return d, nil
}

func (t *PendingCommandTable) Discard(id ids.DeviceId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byDevice[id]
	if !ok {
		return false
	}
	delete(t.byDevice, id)
	delete(t.byEndpoint, toEndpointKey(d.CommandEndpt))
	return true
}

func (t *PendingCommandTable) Exists(id ids.DeviceId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byDevice[id]
	return ok
}

func (t *PendingCommandTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byDevice = make(map[ids.DeviceId]*model.DeviceDescriptor)
	t.byEndpoint = make(map[endpointKey]*model.DeviceDescriptor)
}
