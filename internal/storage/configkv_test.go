package storage

import "testing"

func TestLoadConfigIgnoresUnknownKeys(t *testing.T) {
	store := newMigratedStore(t)
	mustExec(t, store, `INSERT INTO config2 (key, value) VALUES ('zigbeechannel', '25')`)
	mustExec(t, store, `INSERT INTO config2 (key, value) VALUES ('mysteryknob', 'x')`)

	cache := NewCache()
	if err := store.LoadConfig(cache); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if v, ok := cache.Config("zigbeechannel"); !ok || v != "25" {
		t.Fatalf("zigbeechannel = %q, %v", v, ok)
	}
	if _, ok := cache.Config("mysteryknob"); ok {
		t.Fatal("unknown key must not hydrate")
	}
}

func TestUserParamsRoundTrip(t *testing.T) {
	store := newMigratedStore(t)
	db, err := store.conn()
	if err != nil {
		t.Fatalf("conn: %v", err)
	}

	cache := NewCache()
	cache.SetUserParam("dashboard", `{"layout":"grid"}`)
	if err := store.saveUserParams(db, cache); err != nil {
		t.Fatalf("saveUserParams: %v", err)
	}

	fresh := NewCache()
	if err := store.LoadUserParams(fresh); err != nil {
		t.Fatalf("LoadUserParams: %v", err)
	}
	if v, ok := fresh.UserParam("dashboard"); !ok || v != `{"layout":"grid"}` {
		t.Fatalf("dashboard = %q, %v", v, ok)
	}
}

func TestApplyConfigScalarsSetsZCLValueMaxAge(t *testing.T) {
	store := newMigratedStore(t)
	cache := NewCache()
	cache.SetConfig("zclvaluemaxage", "7200")

	store.applyConfigScalars(cache)
	if got := store.ZCLValueMaxAge(); got != 7200 {
		t.Fatalf("ZCLValueMaxAge = %d, want 7200", got)
	}

	cache.SetConfig("zclvaluemaxage", "not-a-number")
	store.applyConfigScalars(cache)
	if got := store.ZCLValueMaxAge(); got != 7200 {
		t.Fatal("malformed scalar must not clobber the previous value")
	}
}
