package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
)

func TestMemoryDeviceStorePutThenGet(t *testing.T) {
	store := NewMemoryDeviceStore()
	ctx := context.Background()
	deviceId := ids.NewDeviceId()
	descriptor := model.DeviceDescriptor{DeviceId: deviceId, Role: ids.RoleClient}

	if err := store.Put(ctx, descriptor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get(ctx, deviceId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != descriptor {
		t.Fatalf("expected %+v, got %+v", descriptor, got)
	}
}

func TestMemoryDeviceStoreGetMissing(t *testing.T) {
	store := NewMemoryDeviceStore()
	_, err := store.Get(context.Background(), ids.NewDeviceId())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAuthStorePutThenGet(t *testing.T) {
	store := NewMemoryAuthStore()
	ctx := context.Background()
	deviceId := ids.NewDeviceId()
	entry := model.LocalAuthenticationEntry{RemoteDeviceId: deviceId, Password: "secret"}

	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get(ctx, deviceId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != entry {
		t.Fatalf("expected %+v, got %+v", entry, got)
	}
}

func TestMemoryAuthStoreGetMissing(t *testing.T) {
	store := NewMemoryAuthStore()
	_, err := store.Get(context.Background(), ids.NewDeviceId())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
