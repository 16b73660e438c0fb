package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"zigbridge/internal/observability"
)

func TestEscapeString(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"O'Brien", "O''Brien"},
		{"''", "''''"},
		{"tab\there", "tab.here"},
		{"nl\nhere", "nl.here"},
		{"nul\x00", "nul."},
		{"del\x7f", "del."},
		{"unicode ok: möter", "unicode ok: möter"},
	}
	for _, c := range cases {
		if got := EscapeString(c.in); got != c.want {
			t.Errorf("EscapeString(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExecfRejectsOverflowingStatement(t *testing.T) {
	store := newMigratedStore(t)

	long := strings.Repeat("x", formatBufferSize)
	err := store.execf("INSERT INTO zbconf (conf) VALUES ('%s')", long)
	if !errors.Is(err, errStatementTooLong) {
		t.Fatalf("execf = %v, want errStatementTooLong", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM zbconf`); n != 0 {
		t.Fatal("overflowing statement must not execute")
	}
}

func TestExecfRunsWithinBudget(t *testing.T) {
	store := newMigratedStore(t)

	if err := store.execf("INSERT INTO zbconf (conf) VALUES ('%s')", EscapeString("it's fine")); err != nil {
		t.Fatalf("execf: %v", err)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM zbconf`); n != 1 {
		t.Fatal("statement within budget did not execute")
	}
}

func TestUpdateHookReportsRowIDForInsertsOnly(t *testing.T) {
	type hookCall struct {
		op    string
		table string
		rowid int64
	}
	var calls []hookCall
	store, err := New(
		Config{Path: filepath.Join(t.TempDir(), "test.db")},
		WithLogger(observability.NoOpLogger()),
		WithUpdateHook(func(op, table string, rowid int64) {
			calls = append(calls, hookCall{op, table, rowid})
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if !store.Migrate() {
		t.Fatal("Migrate reported failure on a fresh store")
	}

	calls = nil
	for _, stmt := range []string{
		`INSERT INTO config2 (key, value) VALUES ('hookkey', '1')`,
		`UPDATE config2 SET value = '2' WHERE key = 'hookkey'`,
		`DELETE FROM config2 WHERE key = 'hookkey'`,
	} {
		if err := store.exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	if len(calls) != 3 {
		t.Fatalf("hook calls = %d, want 3", len(calls))
	}
	if calls[0].op != "insert" || calls[0].table != "config2" || calls[0].rowid <= 0 {
		t.Fatalf("insert call = %+v, want positive rowid", calls[0])
	}
	if calls[1].op != "update" || calls[1].rowid != 0 {
		t.Fatalf("update call = %+v, want zero rowid", calls[1])
	}
	if calls[2].op != "delete" || calls[2].rowid != 0 {
		t.Fatalf("delete call = %+v, want zero rowid", calls[2])
	}
}

func TestStatementClassification(t *testing.T) {
	if op := opForStatement("INSERT INTO nodes VALUES (1)"); op != "insert" {
		t.Fatalf("opForStatement insert = %q", op)
	}
	if op := opForStatement("delete from nodes"); op != "delete" {
		t.Fatalf("opForStatement delete = %q", op)
	}
	if table := tableForStatement("DELETE FROM zcl_values WHERE id = 1"); table != "zcl_values" {
		t.Fatalf("tableForStatement = %q", table)
	}
	if table := tableForStatement("INSERT INTO auth (apikey) VALUES ('x')"); table != "auth" {
		t.Fatalf("tableForStatement = %q", table)
	}
}
