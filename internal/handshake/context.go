// Package handshake implements the three connection handshakes: the
// password-seeded pairing exchange, the command-channel CEK
// establishment (RSA or ECDH flavored), and the data-channel CEK
// binding. Each is a short, event-driven state machine driven by a
// transport.Connection and completing into either an established
// event or a failed event.
package handshake

import (
	"context"
	"time"

	"github.com/sndnv/syn-server-core/internal/cryptosvc"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
	"github.com/sndnv/syn-server-core/internal/model"
)

// Coordinator is the narrow surface a handshake needs from its owner:
// read/update device and auth records, and report completion. It
// never exposes the coordinator's internal tables or timers.
type Coordinator interface {
	DeviceDescriptor(ctx context.Context, id ids.DeviceId) (model.DeviceDescriptor, error)
	UpdateDeviceDescriptor(ctx context.Context, d model.DeviceDescriptor) error
	AuthEntry(ctx context.Context, remote ids.DeviceId) (model.LocalAuthenticationEntry, error)
	UpdateAuthEntry(ctx context.Context, e model.LocalAuthenticationEntry) error
	EmitEstablished(connId ids.ConnectionId, deviceId ids.DeviceId, transient *ids.TransientConnectionId)
	EmitFailed(connId ids.ConnectionId, transient *ids.TransientConnectionId, cause error)
}

// Deps bundles the collaborators every handshake flavor needs,
// threaded through at construction rather than reached for globally.
type Deps struct {
	Crypto      cryptosvc.Service
	Coordinator Coordinator
	Log         logging.Logger
	Now         func() time.Time
}
