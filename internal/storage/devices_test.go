package storage

import (
	"testing"
	"time"
)

func TestUpsertDevicePreservesIdentity(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)

	id, createdAt, err := store.UpsertDevice(mac, 0x1a2b)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if id == 0 {
		t.Fatal("fresh device must get a non-zero id")
	}
	if createdAt.IsZero() {
		t.Fatal("fresh device must get a creation time")
	}

	again, sameCreated, err := store.UpsertDevice(mac, 0x1a2b)
	if err != nil {
		t.Fatalf("UpsertDevice (repeat): %v", err)
	}
	if again != id {
		t.Fatalf("repeat sighting changed id: %d != %d", again, id)
	}
	if !sameCreated.Equal(createdAt) {
		t.Fatal("repeat sighting must not touch the creation time")
	}

	moved, movedCreated, err := store.UpsertDevice(mac, 0x3c4d)
	if err != nil {
		t.Fatalf("UpsertDevice (nwk change): %v", err)
	}
	if moved != id || !movedCreated.Equal(createdAt) {
		t.Fatal("nwk change must keep id and creation time")
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM devices WHERE nwk = ?`, int64(0x3c4d)); n != 1 {
		t.Fatal("nwk address was not updated in place")
	}
}

func TestDeviceIDUnknownMAC(t *testing.T) {
	store := newMigratedStore(t)
	id, err := store.DeviceID(0xdeadbeef)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if id != 0 {
		t.Fatalf("unknown MAC resolved to id %d, want 0", id)
	}
}

func TestDeleteDeviceCascades(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)

	id, _, err := store.UpsertDevice(mac, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	uid := UniqueID(mac, 1, 0x0406)
	subID, err := store.EnsureSubDevice(id, uid)
	if err != nil {
		t.Fatalf("EnsureSubDevice: %v", err)
	}
	if _, err := store.UpsertResourceItem(subID, &ResourceItem{Suffix: "state/presence", Value: "true"}, 0); err != nil {
		t.Fatalf("UpsertResourceItem: %v", err)
	}
	if err := store.PushDescriptor(id, 1, 4, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("PushDescriptor: %v", err)
	}

	if err := store.DeleteDevice(mac); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}

	for _, q := range []string{
		`SELECT COUNT(*) FROM devices`,
		`SELECT COUNT(*) FROM sub_devices`,
		`SELECT COUNT(*) FROM resource_items`,
		`SELECT COUNT(*) FROM device_descriptors`,
	} {
		if n := countRows(t, store, q); n != 0 {
			t.Errorf("%s = %d after cascade delete, want 0", q, n)
		}
	}
}

func TestLoadDevicesSkipsMalformedMAC(t *testing.T) {
	store := newMigratedStore(t)
	mustExec(t, store, `INSERT INTO devices (mac, nwk, timestamp) VALUES ('not-a-mac', 0, ?)`, time.Now().Unix())
	mustExec(t, store, `INSERT INTO devices (mac, nwk, timestamp) VALUES ('00:11:22:33:44:55:66:77', 5, ?)`, time.Now().Unix())

	cache := NewCache()
	if err := store.LoadDevices(cache); err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if got := cache.Counts()["devices"]; got != 1 {
		t.Fatalf("hydrated %d devices, want 1", got)
	}
	if _, ok := cache.Device(0x0011223344556677); !ok {
		t.Fatal("well-formed device row missing from cache")
	}
}
