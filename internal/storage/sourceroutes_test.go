package storage

import "testing"

type recordingActivator struct {
	routes map[string][]uint64
}

func (r *recordingActivator) ActivateRoute(routeUUID string, destMAC uint64, hopMACs []uint64) {
	if r.routes == nil {
		r.routes = make(map[string][]uint64)
	}
	r.routes[routeUUID] = hopMACs
}

func TestStoreSourceRouteRejectsShortRoutes(t *testing.T) {
	store := newMigratedStore(t)
	if _, _, err := store.UpsertDevice(0x01, 1); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	route := NewSourceRoute(0x01, 0, []uint64{0x01})
	if err := store.StoreSourceRoute(route); err == nil {
		t.Fatal("single-hop route must be rejected")
	}
	if err := store.StoreSourceRoute(nil); err == nil {
		t.Fatal("nil route must be rejected")
	}
}

func TestSourceRouteRoundTrip(t *testing.T) {
	store := newMigratedStore(t)
	relay, dest := uint64(0x0a), uint64(0x0b)
	for _, mac := range []uint64{relay, dest} {
		if _, _, err := store.UpsertDevice(mac, uint16(mac)); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}

	route := NewSourceRoute(dest, 3, []uint64{relay, dest})
	if route.UUID == "" {
		t.Fatal("NewSourceRoute must assign a uuid")
	}
	if err := store.StoreSourceRoute(route); err != nil {
		t.Fatalf("StoreSourceRoute: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM source_route_hops`); n != 2 {
		t.Fatalf("%d hop rows, want 2", n)
	}

	// Re-storing the same route rewrites the hop rows wholesale.
	if err := store.StoreSourceRoute(route); err != nil {
		t.Fatalf("StoreSourceRoute (repeat): %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM source_route_hops`); n != 2 {
		t.Fatalf("%d hop rows after rewrite, want 2", n)
	}

	cache := NewCache()
	activator := &recordingActivator{}
	if err := store.RestoreSourceRoutes(cache, activator); err != nil {
		t.Fatalf("RestoreSourceRoutes: %v", err)
	}
	hops, ok := activator.routes[route.UUID]
	if !ok {
		t.Fatal("restored route was not activated")
	}
	if len(hops) != 2 || hops[0] != relay || hops[1] != dest {
		t.Fatalf("activated hops = %v", hops)
	}
	if _, ok := cache.SourceRoute(route.UUID); !ok {
		t.Fatal("restored route missing from cache")
	}
}

func TestRestoreSkipsActivationForThinnedRoutes(t *testing.T) {
	store := newMigratedStore(t)
	relay, dest := uint64(0x0a), uint64(0x0b)
	for _, mac := range []uint64{relay, dest} {
		if _, _, err := store.UpsertDevice(mac, uint16(mac)); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}
	route := NewSourceRoute(dest, 0, []uint64{relay, dest})
	if err := store.StoreSourceRoute(route); err != nil {
		t.Fatalf("StoreSourceRoute: %v", err)
	}

	// The relay disappears; its hop row cascades away and the
	// surviving route is too short to activate.
	if err := store.DeleteDevice(relay); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}

	cache := NewCache()
	activator := &recordingActivator{}
	if err := store.RestoreSourceRoutes(cache, activator); err != nil {
		t.Fatalf("RestoreSourceRoutes: %v", err)
	}
	if _, ok := activator.routes[route.UUID]; ok {
		t.Fatal("thinned route must not be activated")
	}
	if _, ok := cache.SourceRoute(route.UUID); !ok {
		t.Fatal("thinned route must still hydrate into the cache")
	}
}

func TestDeleteSourceRoute(t *testing.T) {
	store := newMigratedStore(t)
	relay, dest := uint64(0x0a), uint64(0x0b)
	for _, mac := range []uint64{relay, dest} {
		if _, _, err := store.UpsertDevice(mac, uint16(mac)); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}
	route := NewSourceRoute(dest, 0, []uint64{relay, dest})
	if err := store.StoreSourceRoute(route); err != nil {
		t.Fatalf("StoreSourceRoute: %v", err)
	}

	if err := store.DeleteSourceRoute(route.UUID); err != nil {
		t.Fatalf("DeleteSourceRoute: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM source_routes`); n != 0 {
		t.Fatal("route header survived delete")
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM source_route_hops`); n != 0 {
		t.Fatal("hop rows survived delete")
	}
}
