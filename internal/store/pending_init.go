// Package store holds the connection data store: three indexed tables
// of pending-handshake descriptors plus the single-use authorization
// token table, each guarded by its own mutex.
package store

import (
	"sync"
	"time"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

type endpointKey struct {
	addr string
	port uint16
}

func toEndpointKey(e model.Endpoint) endpointKey {
	return endpointKey{addr: e.Addr, port: e.Port}
}

// PendingInitTable indexes PendingInitSetup by transient_id, with a
// secondary index by (ip,port) for outbound-dialed entries.
type PendingInitTable struct {
	mu        sync.Mutex
	byId      map[ids.TransientConnectionId]*model.PendingInitSetup
	byEndpoint map[endpointKey]*model.PendingInitSetup
}

func NewPendingInitTable() *PendingInitTable {
	return &PendingInitTable{
		byId:       make(map[ids.TransientConnectionId]*model.PendingInitSetup),
		byEndpoint: make(map[endpointKey]*model.PendingInitSetup),
	}
}

// Add inserts entry, indexed by its transient id and, if present, its
// remote endpoint.
func (t *PendingInitTable) Add(entry *model.PendingInitSetup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byId[entry.TransientId] = entry
	if entry.RemoteEndpt != nil {
		t.byEndpoint[toEndpointKey(*entry.RemoteEndpt)] = entry
	}
}

// GetByTransientId looks up an entry without removing it.
func (t *PendingInitTable) GetByTransientId(id ids.TransientConnectionId) (*model.PendingInitSetup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byId[id]
	if !ok {
		return nil, herrors.ErrLookupMiss
	}
	return entry, nil
}

// GetByEndpoint looks up an entry by its dialed remote endpoint.
func (t *PendingInitTable) GetByEndpoint(e model.Endpoint) (*model.PendingInitSetup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byEndpoint[toEndpointKey(e)]
	if !ok {
		return nil, herrors.ErrLookupMiss
	}
	return entry, nil
}

// Discard removes the entry for id from both indexes. Idempotent:
// discarding an absent id is a no-op and reports false.
func (t *PendingInitTable) Discard(id ids.TransientConnectionId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byId[id]
	if !ok {
		return false
	}
	delete(t.byId, id)
	if entry.RemoteEndpt != nil {
		delete(t.byEndpoint, toEndpointKey(*entry.RemoteEndpt))
	}
	return true
}

// Exists reports whether id has a pending entry.
func (t *PendingInitTable) Exists(id ids.TransientConnectionId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byId[id]
	return ok
}

// Clear empties the table, used during coordinator shutdown.
func (t *PendingInitTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byId = make(map[ids.TransientConnectionId]*model.PendingInitSetup)
	t.byEndpoint = make(map[endpointKey]*model.PendingInitSetup)
}

// DiscardExpired removes every entry older than maxAge and returns the
// ids it discarded, implementing the discard-timeout floor for entries
// whose handshake neither completed nor failed outright.
func (t *PendingInitTable) DiscardExpired(maxAge time.Duration, now time.Time) []ids.TransientConnectionId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []ids.TransientConnectionId
	for id, entry := range t.byId {
		if now.Sub(entry.CreatedAt) >= maxAge {
			expired = append(expired, id)
			delete(t.byId, id)
			if entry.RemoteEndpt != nil {
				delete(t.byEndpoint, toEndpointKey(*entry.RemoteEndpt))
			}
		}
	}
	return expired
}
