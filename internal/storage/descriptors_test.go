package storage

import (
	"bytes"
	"testing"
)

func TestPushDescriptorConverges(t *testing.T) {
	store := newMigratedStore(t)
	id, _, err := store.UpsertDevice(0x0011223344556677, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	if err := store.PushDescriptor(id, 1, 4, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	// Identical bytes converge to a no-op.
	if err := store.PushDescriptor(id, 1, 4, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("identical push: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM device_descriptors`); n != 1 {
		t.Fatalf("%d descriptor rows, want 1", n)
	}

	// Differing bytes update in place, never insert a second row.
	if err := store.PushDescriptor(id, 1, 4, []byte{0x09}); err != nil {
		t.Fatalf("update push: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM device_descriptors`); n != 1 {
		t.Fatalf("%d descriptor rows after update, want 1", n)
	}

	// A different (endpoint, type) pair is its own row.
	if err := store.PushDescriptor(id, 2, 5, []byte{0x0a}); err != nil {
		t.Fatalf("second key push: %v", err)
	}

	descriptors, err := store.LoadDescriptors(id)
	if err != nil {
		t.Fatalf("LoadDescriptors: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("loaded %d descriptors, want 2", len(descriptors))
	}
	for _, d := range descriptors {
		if d.Endpoint == 1 && !bytes.Equal(d.Data, []byte{0x09}) {
			t.Fatalf("endpoint 1 carries stale data %x", d.Data)
		}
	}
}
