package storage

import (
	"testing"
	"time"
)

func TestEnsureSubDeviceValidation(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)
	id, _, err := store.UpsertDevice(mac, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	if _, err := store.EnsureSubDevice(id, "garbage"); err == nil {
		t.Fatal("malformed uniqueid must be rejected")
	}
	// Endpoint 0 is outside the application range.
	if _, err := store.EnsureSubDevice(id, UniqueID(mac, 0, 0xffff)); err == nil {
		t.Fatal("endpoint 0 must be rejected")
	}

	uid := UniqueID(mac, 1, 0x0406)
	first, err := store.EnsureSubDevice(id, uid)
	if err != nil {
		t.Fatalf("EnsureSubDevice: %v", err)
	}
	second, err := store.EnsureSubDevice(id, uid)
	if err != nil {
		t.Fatalf("EnsureSubDevice (repeat): %v", err)
	}
	if first != second {
		t.Fatalf("repeated ensure returned different ids: %d != %d", first, second)
	}
}

func TestStoreDelayFor(t *testing.T) {
	store := newMigratedStore(t)

	if d := store.storeDelayFor("config/offset", 0); d != defaultStoreDelay {
		t.Fatalf("default delay = %v", d)
	}
	if d := store.storeDelayFor("cap/color", 0); d != capStoreDelay {
		t.Fatalf("cap delay = %v", d)
	}
	// Three quarters of the declared refresh interval wins when larger.
	if d := store.storeDelayFor("state/temperature", 2000*time.Second); d != 1500*time.Second {
		t.Fatalf("ddf scaled delay = %v", d)
	}
	if d := store.storeDelayFor("state/temperature", 100*time.Second); d != defaultStoreDelay {
		t.Fatalf("small ddf interval must not shrink the delay, got %v", d)
	}

	store.cfg.ConstrainedPlatform = true
	if d := store.storeDelayFor("state/temperature", 0); d != constrainedStoreDelay {
		t.Fatalf("constrained delay = %v", d)
	}
}

func TestUpsertResourceItemAbsorbsChurn(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)
	id, _, err := store.UpsertDevice(mac, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	subID, err := store.EnsureSubDevice(id, UniqueID(mac, 1, 0x0406))
	if err != nil {
		t.Fatalf("EnsureSubDevice: %v", err)
	}

	wrote, err := store.UpsertResourceItem(subID, &ResourceItem{Suffix: "state/presence", Value: "true"}, 0)
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}

	// Unchanged value inside the window is absorbed.
	wrote, err = store.UpsertResourceItem(subID, &ResourceItem{Suffix: "state/presence", Value: "true"}, 0)
	if err != nil || wrote {
		t.Fatalf("unchanged value: wrote=%v err=%v", wrote, err)
	}

	// Changed state/* value inside the window is absorbed too.
	wrote, err = store.UpsertResourceItem(subID, &ResourceItem{Suffix: "state/presence", Value: "false"}, 0)
	if err != nil || wrote {
		t.Fatalf("changed state value inside window: wrote=%v err=%v", wrote, err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM resource_items WHERE value = 'true'`); n != 1 {
		t.Fatal("absorbed write must leave the stored value untouched")
	}

	// Non-state items persist changed values immediately.
	wrote, err = store.UpsertResourceItem(subID, &ResourceItem{Suffix: "config/duration", Value: "60"}, 0)
	if err != nil || !wrote {
		t.Fatalf("first config write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = store.UpsertResourceItem(subID, &ResourceItem{Suffix: "config/duration", Value: "90"}, 0)
	if err != nil || !wrote {
		t.Fatalf("changed config value: wrote=%v err=%v", wrote, err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM resource_items WHERE item = 'config/duration' AND value = '90'`); n != 1 {
		t.Fatal("changed config value not persisted")
	}
}

func TestUpsertDeviceResourceItem(t *testing.T) {
	store := newMigratedStore(t)
	id, _, err := store.UpsertDevice(0x0011223344556677, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	wrote, err := store.UpsertDeviceResourceItem(id, &ResourceItem{Suffix: "attr/swversion", Value: "1.0"}, 0)
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = store.UpsertDeviceResourceItem(id, &ResourceItem{Suffix: "attr/swversion", Value: "1.0"}, 0)
	if err != nil || wrote {
		t.Fatalf("unchanged value: wrote=%v err=%v", wrote, err)
	}

	cache := NewCache()
	if err := store.LoadDeviceResourceItems(cache); err != nil {
		t.Fatalf("LoadDeviceResourceItems: %v", err)
	}
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	item, ok := cache.devItems[id]["attr/swversion"]
	if !ok || item.Value != "1.0" {
		t.Fatal("device resource item did not hydrate")
	}
}

func TestResourceItemStoreDelayOverride(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)
	id, _, err := store.UpsertDevice(mac, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	subID, err := store.EnsureSubDevice(id, UniqueID(mac, 1, 0x0406))
	if err != nil {
		t.Fatalf("EnsureSubDevice: %v", err)
	}

	item := &ResourceItem{Suffix: "config/sensitivity", Value: "2"}
	written, err := store.UpsertResourceItem(subID, item, 0)
	if err != nil || !written {
		t.Fatalf("first write = (%v, %v), want (true, nil)", written, err)
	}

	written, err = store.UpsertResourceItem(subID, item, 0)
	if err != nil || written {
		t.Fatalf("unchanged value inside the window = (%v, %v), want absorbed", written, err)
	}

	// A positive per-item delay replaces the computed window.
	item.StoreDelay = time.Nanosecond
	written, err = store.UpsertResourceItem(subID, item, 0)
	if err != nil || !written {
		t.Fatalf("write with expired override = (%v, %v), want (true, nil)", written, err)
	}
}
