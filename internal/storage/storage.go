// Package storage defines the narrow interfaces the core consumes
// from the (out-of-scope) relational storage layer: device records
// and per-peer authentication entries, treated as a key/value store.
package storage

import (
	"context"

	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

// DeviceStore is the read/update surface for DeviceDescriptor records.
// The core never deletes a descriptor and never creates one outside
// of a completed pairing handshake.
type DeviceStore interface {
	Get(ctx context.Context, id ids.DeviceId) (model.DeviceDescriptor, error)
	Put(ctx context.Context, descriptor model.DeviceDescriptor) error
}

// AuthStore is the read/update surface for LocalAuthenticationEntry
// records. Entries are mutated through add/update only; the core
// never deletes one.
type AuthStore interface {
	Get(ctx context.Context, remote ids.DeviceId) (model.LocalAuthenticationEntry, error)
	Put(ctx context.Context, entry model.LocalAuthenticationEntry) error
}

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "storage: not found" }
