package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

func TestPendingInitTableAddAndLookup(t *testing.T) {
	table := NewPendingInitTable()
	endpt := model.Endpoint{Addr: "10.0.0.5", Port: 9000}
	entry := &model.PendingInitSetup{TransientId: 42, RemoteEndpt: &endpt, CreatedAt: time.Now()}
	table.Add(entry)

	got, err := table.GetByTransientId(42)
	require.NoError(t, err)
	require.Same(t, entry, got)

	got2, err := table.GetByEndpoint(endpt)
	require.NoError(t, err)
	require.Same(t, entry, got2)
}

func TestPendingInitTableLookupMiss(t *testing.T) {
	table := NewPendingInitTable()
	_, err := table.GetByTransientId(1)
	require.ErrorIs(t, err, herrors.ErrLookupMiss)
}

func TestPendingInitTableDiscardIsIdempotent(t *testing.T) {
	table := NewPendingInitTable()
	table.Add(&model.PendingInitSetup{TransientId: 1, CreatedAt: time.Now()})

	require.True(t, table.Discard(1))
	require.False(t, table.Discard(1))
	require.False(t, table.Exists(1))
}

func TestPendingInitTableDiscardExpired(t *testing.T) {
	table := NewPendingInitTable()
	old := time.Now().Add(-time.Hour)
	table.Add(&model.PendingInitSetup{TransientId: 1, CreatedAt: old})
	table.Add(&model.PendingInitSetup{TransientId: 2, CreatedAt: time.Now()})

	expired := table.DiscardExpired(30*time.Second, time.Now())
	require.Equal(t, []ids.TransientConnectionId{1}, expired)
	require.False(t, table.Exists(1))
	require.True(t, table.Exists(2))
}

func TestPendingCommandTableAddAndLookup(t *testing.T) {
	table := NewPendingCommandTable()
	deviceId := ids.NewDeviceId()
	descriptor := &model.DeviceDescriptor{DeviceId: deviceId, CommandEndpt: model.Endpoint{Addr: "1.2.3.4", Port: 1000}}
	table.Add(descriptor)

	got, err := table.GetByDevice(deviceId)
	require.NoError(t, err)
	require.Same(t, descriptor, got)

	got2, err := table.GetByEndpoint(descriptor.CommandEndpt)
	require.NoError(t, err)
	require.Same(t, descriptor, got2)

	require.True(t, table.Discard(deviceId))
	require.False(t, table.Exists(deviceId))
}

func TestPendingDataTableTakeConsumesEntry(t *testing.T) {
	table := NewPendingDataTable()
	deviceId := ids.NewDeviceId()
	entry := &model.PendingDataChannel{
		TransientId: 7,
		Target:      model.DeviceDescriptor{DeviceId: deviceId, DataEndpt: model.Endpoint{Addr: "1.1.1.1", Port: 2000}},
		CreatedAt:   time.Now(),
	}
	table.Add(entry)

	got, err := table.Take(deviceId, 7)
	require.NoError(t, err)
	require.Same(t, entry, got)

	_, err = table.Take(deviceId, 7)
	require.ErrorIs(t, err, herrors.ErrLookupMiss)
}

func TestPendingDataTableDiscardExpired(t *testing.T) {
	table := NewPendingDataTable()
	deviceId := ids.NewDeviceId()
	table.Add(&model.PendingDataChannel{
		TransientId: 1,
		Target:      model.DeviceDescriptor{DeviceId: deviceId, DataEndpt: model.Endpoint{Addr: "a", Port: 1}},
		CreatedAt:   time.Now().Add(-time.Hour),
	})

	n := table.DiscardExpired(30*time.Second, time.Now())
	require.Equal(t, 1, n)
	require.False(t, table.Exists(deviceId, 1))
}

func TestTokenTableVerifyAndConsumeIsSingleUse(t *testing.T) {
	table := NewTokenTable[string]()
	table.Post("tok-1")

	require.NoError(t, table.VerifyAndConsume("tok-1"))
	err := table.VerifyAndConsume("tok-1")
	require.ErrorIs(t, err, herrors.ErrAuth)
}

func TestTokenTableClear(t *testing.T) {
	table := NewTokenTable[string]()
	table.Post("tok-1")
	table.Clear()
	require.ErrorIs(t, table.VerifyAndConsume("tok-1"), herrors.ErrAuth)
}
