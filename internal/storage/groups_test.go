package storage

import "testing"

func TestLoadGroupsAttachesScenesOfLiveGroupsOnly(t *testing.T) {
	store := newMigratedStore(t)
	mustExec(t, store, `INSERT INTO groups (gid, name, state) VALUES ('10', 'living room', 'normal')`)
	mustExec(t, store, `INSERT INTO groups (gid, name, state) VALUES ('11', 'old room', 'deleted')`)
	mustExec(t, store, `INSERT INTO scenes (gsid, gid, sid, name) VALUES ('10-1', '10', '1', 'evening')`)
	mustExec(t, store, `INSERT INTO scenes (gsid, gid, sid, name) VALUES ('11-1', '11', '1', 'orphan')`)

	cache := NewCache()
	if err := store.LoadGroups(cache); err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}

	if got := cache.Counts()["groups"]; got != 1 {
		t.Fatalf("hydrated %d groups, want 1", got)
	}
	if got := cache.Counts()["scenes"]; got != 1 {
		t.Fatalf("hydrated %d scenes, want 1", got)
	}
	cache.mu.RLock()
	_, live := cache.scenes["10-1"]
	_, orphan := cache.scenes["11-1"]
	cache.mu.RUnlock()
	if !live || orphan {
		t.Fatal("only scenes of live groups may hydrate")
	}
}

func TestLoadAllHydratesEveryFamily(t *testing.T) {
	store := newMigratedStore(t)
	mac := uint64(0x0011223344556677)
	id, _, err := store.UpsertDevice(mac, 1)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if _, err := store.EnsureSubDevice(id, UniqueID(mac, 1, 0x0006)); err != nil {
		t.Fatalf("EnsureSubDevice: %v", err)
	}
	mustExec(t, store, `INSERT INTO nodes (id, state, mac) VALUES ('1', 'normal', ?)`, MACToString(mac))
	mustExec(t, store, `INSERT INTO groups (gid, state) VALUES ('10', 'normal')`)
	mustExec(t, store, `INSERT INTO config2 (key, value) VALUES ('zclvaluemaxage', '1800')`)

	cache := NewCache()
	if err := store.LoadAll(cache, nil, nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	counts := cache.Counts()
	if counts["devices"] != 1 || counts["sub_devices"] != 1 || counts["lights"] != 1 || counts["groups"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	// The hydrated config scalar tunes the history bound.
	if got := store.ZCLValueMaxAge(); got != 1800 {
		t.Fatalf("ZCLValueMaxAge = %d, want 1800", got)
	}
}

func TestAlarmSystemRoundTrip(t *testing.T) {
	store := newMigratedStore(t)

	alarm := &AlarmSystem{ID: 1}
	cache := NewCache()
	cache.PutAlarmSystem(alarm)
	alarm.Items["config/armmode"] = &ResourceItem{Suffix: "config/armmode", Value: "armed_away"}
	alarm.Devices["00:11:22:33:44:55:66:77-01"] = AlarmSystemDevice{
		UniqueID: "00:11:22:33:44:55:66:77-01",
		Flags:    3,
	}

	if err := store.SaveAlarmSystem(alarm); err != nil {
		t.Fatalf("SaveAlarmSystem: %v", err)
	}

	fresh := NewCache()
	if err := store.LoadAlarmSystems(fresh); err != nil {
		t.Fatalf("LoadAlarmSystems: %v", err)
	}
	loaded, ok := fresh.AlarmSystem(1)
	if !ok {
		t.Fatal("alarm system did not hydrate")
	}
	if item, ok := loaded.Items["config/armmode"]; !ok || item.Value != "armed_away" {
		t.Fatal("alarm item did not round-trip")
	}
	if dev, ok := loaded.Devices["00:11:22:33:44:55:66:77-01"]; !ok || dev.Flags != 3 {
		t.Fatal("alarm device membership did not round-trip")
	}

	if err := store.DeleteAlarmSystem(1); err != nil {
		t.Fatalf("DeleteAlarmSystem: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM alarm_systems_ritems`); n != 0 {
		t.Fatal("alarm item rows survived cascade delete")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	store := newMigratedStore(t)

	secret := &Secret{UniqueID: "00:11:22:33:44:55:66:77-01", Secret: "aGVsbG8=", State: 1}
	if err := store.SaveSecret(secret); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	// Replacement is wholesale.
	secret.Secret = "d29ybGQ="
	if err := store.SaveSecret(secret); err != nil {
		t.Fatalf("SaveSecret (replace): %v", err)
	}

	cache := NewCache()
	if err := store.LoadSecrets(cache); err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	cache.mu.RLock()
	loaded := cache.secrets[secret.UniqueID]
	cache.mu.RUnlock()
	if loaded == nil || loaded.Secret != "d29ybGQ=" || loaded.State != 1 {
		t.Fatalf("loaded secret = %+v", loaded)
	}

	if err := store.DeleteSecret(secret.UniqueID); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM secrets`); n != 0 {
		t.Fatal("secret row survived delete")
	}
}
