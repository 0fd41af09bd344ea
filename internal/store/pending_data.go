package store

import (
	"sync"
	"time"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

type dataKey struct {
	device    ids.DeviceId
	transient ids.TransientConnectionId
}

// PendingDataTable indexes PendingDataChannel by (device_id,
// transient_id), with a secondary index by (ip,port) that may map to
// multiple entries. Get consumes the entry: at most one data
// handshake may match a given descriptor.
type PendingDataTable struct {
	mu         sync.Mutex
	byKey      map[dataKey]*model.PendingDataChannel
	byEndpoint map[endpointKey][]*model.PendingDataChannel
}

func NewPendingDataTable() *PendingDataTable {
	return &PendingDataTable{
		byKey:      make(map[dataKey]*model.PendingDataChannel),
		byEndpoint: make(map[endpointKey][]*model.PendingDataChannel),
	}
}

func (t *PendingDataTable) Add(entry *model.PendingDataChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := dataKey{device: entry.Target.DeviceId, transient: entry.TransientId}
	t.byKey[key] = entry
	ek := toEndpointKey(entry.Target.DataEndpt)
	t.byEndpoint[ek] = append(t.byEndpoint[ek], entry)
}

// Take removes and returns the entry for (device, transient), if any.
// This is the consuming get required by the at-most-one-match rule.
func (t *PendingDataTable) Take(device ids.DeviceId, transient ids.TransientConnectionId) (*model.PendingDataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := dataKey{device: device, transient: transient}
	entry, ok := t.byKey[key]
	if !ok {
		return nil, herrors.ErrLookupMiss
	}
	delete(t.byKey, key)
	t.removeFromEndpointIndex(entry)
	return entry, nil
}

func (t *PendingDataTable) removeFromEndpointIndex(entry *model.PendingDataChannel) {
	ek := toEndpointKey(entry.Target.DataEndpt)
	list := t.byEndpoint[ek]
	for i, candidate := range list {
		if candidate == entry {
			t.byEndpoint[ek] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.byEndpoint[ek]) == 0 {
		delete(t.byEndpoint, ek)
	}
}

// Discard removes a specific entry without requiring a match; used
// when a handshake fails or its discard timer fires. Idempotent.
func (t *PendingDataTable) Discard(device ids.DeviceId, transient ids.TransientConnectionId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := dataKey{device: device, transient: transient}
	entry, ok := t.byKey[key]
	if !ok {
		return false
	}
	delete(t.byKey, key)
	t.removeFromEndpointIndex(entry)
	return true
}

func (t *PendingDataTable) Exists(device ids.DeviceId, transient ids.TransientConnectionId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[dataKey{device: device, transient: transient}]
	return ok
}

func (t *PendingDataTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey = make(map[dataKey]*model.PendingDataChannel)
	t.byEndpoint = make(map[endpointKey][]*model.PendingDataChannel)
}

// DiscardExpired removes every entry older than maxAge, implementing
// the discard-timeout floor for data channels a command handshake
// promised but that never actually connected.
func (t *PendingDataTable) DiscardExpired(maxAge time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	discarded := 0
	for key, entry := range t.byKey {
		if now.Sub(entry.CreatedAt) >= maxAge {
			delete(t.byKey, key)
			t.removeFromEndpointIndex(entry)
			discarded++
		}
	}
	return discarded
}
