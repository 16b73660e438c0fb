package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// latestSchemaVersion is the end of the migration chain. The
// user_version scalar in the store file is authoritative; absent or
// zero means legacy.
const latestSchemaVersion = 10

// Migrate reads the schema version and applies the forward-only
// migration chain until latestSchemaVersion is reached, then runs the
// post-migration finalization. A failed step logs an error and stops
// the chain; startup proceeds against the partially migrated store
// and Migrate reports false. Re-running a completed chain is a no-op.
func (s *Store) Migrate() bool {
	start := time.Now()
	version, err := s.UserVersion()
	if err != nil {
		s.logger.Error("migration aborted: cannot read schema version", slog.Any("error", err))
		return false
	}

	if version > latestSchemaVersion {
		s.logger.Warn("store schema version is newer than supported, skipping migration",
			slog.Int("user_version", version),
			slog.Int("supported", latestSchemaVersion))
		return true
	}

	for version < latestSchemaVersion {
		next, ok := s.migrateStep(version)
		if !ok {
			s.logger.Error("migration step failed",
				slog.Int("from_version", version))
			return false
		}
		if err := s.setUserVersion(next); err != nil {
			s.logger.Error("migration version write failed", slog.Any("error", err))
			return false
		}
		s.logger.Info("schema migrated",
			slog.Int("from_version", version),
			slog.Int("to_version", next))
		version = next
	}

	s.finalizeMigration()
	s.metrics.ObserveMigration(time.Since(start))
	return true
}

// migrateStep dispatches to the first migration strictly greater than
// the current version. Steps may not be reordered.
func (s *Store) migrateStep(version int) (int, bool) {
	switch {
	case version < 1:
		return 1, s.migrateLegacyTables()
	case version < 2:
		return 2, s.migrateNormalizedDevices()
	case version < 6:
		return 6, s.migrateDeviceDescriptors()
	case version < 7:
		return 7, s.migrateSourceRoutes()
	case version < 8:
		return 8, s.migrateSensorLastSeen()
	case version < 9:
		return 9, s.migrateSubDevices()
	case version < 10:
		return 10, s.migrateDeviceResourceItems()
	default:
		return version, true
	}
}

// 0 -> 1: the core legacy tables plus their per-release columns.
func (s *Store) migrateLegacyTables() bool {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auth (
		    apikey TEXT PRIMARY KEY,
		    devicetype TEXT,
		    createdate TEXT,
		    lastusedate TEXT,
		    useragent TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS userparameter (
		    key TEXT PRIMARY KEY,
		    value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS config2 (
		    key TEXT PRIMARY KEY,
		    value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
		    id TEXT PRIMARY KEY,
		    state TEXT DEFAULT 'normal',
		    mac TEXT,
		    name TEXT,
		    groups TEXT,
		    endpoint TEXT,
		    modelid TEXT,
		    manufacturername TEXT,
		    swbuildid TEXT,
		    json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
		    gid TEXT PRIMARY KEY,
		    name TEXT,
		    state TEXT DEFAULT 'normal',
		    json TEXT,
		    hidden TEXT,
		    lightsequence TEXT,
		    devicemembership TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS scenes (
		    gsid TEXT PRIMARY KEY,
		    gid TEXT,
		    sid TEXT,
		    name TEXT,
		    transitiontime TEXT,
		    lights TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
		    rid TEXT PRIMARY KEY,
		    name TEXT,
		    created TEXT,
		    etag TEXT,
		    lasttriggered TEXT,
		    owner TEXT,
		    status TEXT,
		    timestriggered TEXT,
		    actions TEXT,
		    conditions TEXT,
		    periodic INTEGER DEFAULT 0,
		    state TEXT DEFAULT 'normal'
		)`,
		`CREATE TABLE IF NOT EXISTS sensors (
		    sid TEXT PRIMARY KEY,
		    name TEXT,
		    type TEXT,
		    state TEXT,
		    config TEXT,
		    fingerprint TEXT,
		    deletedstate TEXT DEFAULT 'normal',
		    mode TEXT,
		    uniqueid TEXT,
		    manufacturername TEXT,
		    modelid TEXT,
		    swversion TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS resourcelinks (
		    id TEXT PRIMARY KEY,
		    json TEXT,
		    state TEXT DEFAULT 'normal'
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
		    id TEXT PRIMARY KEY,
		    json TEXT,
		    status TEXT,
		    activation TEXT,
		    state TEXT DEFAULT 'normal'
		)`,
		`CREATE TABLE IF NOT EXISTS gateways (
		    uuid TEXT PRIMARY KEY,
		    name TEXT,
		    ip TEXT,
		    port INTEGER,
		    pairing TEXT,
		    apikey TEXT,
		    cgroups TEXT,
		    state TEXT DEFAULT 'normal'
		)`,
		`CREATE TABLE IF NOT EXISTS zbconf (
		    conf TEXT
		)`,
	}
	if !s.execMigration(stmts) {
		return false
	}

	// Columns added after the original release; legacy stores may
	// already carry them.
	lateColumns := []struct {
		table, column, columnType string
	}{
		{"rules", "periodic", "INTEGER DEFAULT 0"},
		{"rules", "state", "TEXT DEFAULT 'normal'"},
		{"sensors", "mode", "TEXT"},
		{"sensors", "swversion", "TEXT"},
		{"schedules", "activation", "TEXT"},
		{"schedules", "state", "TEXT DEFAULT 'normal'"},
		{"resourcelinks", "state", "TEXT DEFAULT 'normal'"},
		{"gateways", "state", "TEXT DEFAULT 'normal'"},
		{"groups", "hidden", "TEXT"},
		{"groups", "lightsequence", "TEXT"},
		{"groups", "devicemembership", "TEXT"},
	}
	for _, col := range lateColumns {
		if err := s.addColumnIfMissing(col.table, col.column, col.columnType); err != nil {
			return false
		}
	}
	return true
}

// 1 -> 2: the normalized device table and the ZCL value time series.
func (s *Store) migrateNormalizedDevices() bool {
	return s.execMigration([]string{
		`CREATE TABLE IF NOT EXISTS devices (
		    id INTEGER PRIMARY KEY,
		    mac TEXT UNIQUE NOT NULL,
		    timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS zcl_values (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    device_id INTEGER NOT NULL,
		    endpoint INTEGER NOT NULL,
		    cluster INTEGER NOT NULL,
		    attribute INTEGER NOT NULL,
		    data INTEGER NOT NULL,
		    timestamp INTEGER NOT NULL,
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zcl_values_timestamp ON zcl_values(timestamp)`,
	})
}

// 2..5 -> 6: nwk column, descriptor cache and GUI side table.
func (s *Store) migrateDeviceDescriptors() bool {
	if err := s.addColumnIfMissing("devices", "nwk", "INTEGER"); err != nil {
		return false
	}
	return s.execMigration([]string{
		`CREATE TABLE IF NOT EXISTS device_descriptors (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    device_id INTEGER NOT NULL,
		    endpoint INTEGER NOT NULL,
		    type INTEGER NOT NULL,
		    data BLOB NOT NULL,
		    timestamp INTEGER NOT NULL,
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS device_gui (
		    id INTEGER PRIMARY KEY,
		    device_id INTEGER UNIQUE NOT NULL,
		    flags INTEGER DEFAULT 0,
		    scenex REAL DEFAULT 0,
		    sceney REAL DEFAULT 0,
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
	})
}

// 6 -> 7: source routes and their hop rows.
func (s *Store) migrateSourceRoutes() bool {
	return s.execMigration([]string{
		`CREATE TABLE IF NOT EXISTS source_routes (
		    uuid TEXT PRIMARY KEY,
		    dest_device_id INTEGER NOT NULL,
		    route_order INTEGER NOT NULL,
		    hops INTEGER NOT NULL,
		    timestamp INTEGER NOT NULL,
		    FOREIGN KEY(dest_device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS source_route_hops (
		    source_route_uuid TEXT NOT NULL,
		    hop INTEGER NOT NULL,
		    device_id INTEGER NOT NULL,
		    PRIMARY KEY(source_route_uuid, hop),
		    FOREIGN KEY(source_route_uuid) REFERENCES source_routes(uuid) ON DELETE CASCADE,
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
	})
}

// 7 -> 8: sensor presence columns.
func (s *Store) migrateSensorLastSeen() bool {
	if err := s.addColumnIfMissing("sensors", "lastseen", "TEXT"); err != nil {
		return false
	}
	if err := s.addColumnIfMissing("sensors", "lastannounced", "TEXT"); err != nil {
		return false
	}
	return true
}

// 8 -> 9: sub-devices and sub-device scoped resource items.
func (s *Store) migrateSubDevices() bool {
	return s.execMigration([]string{
		`CREATE TABLE IF NOT EXISTS sub_devices (
		    id INTEGER PRIMARY KEY,
		    device_id INTEGER NOT NULL,
		    uniqueid TEXT UNIQUE NOT NULL,
		    timestamp INTEGER NOT NULL,
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS resource_items (
		    sub_device_id INTEGER NOT NULL,
		    item TEXT NOT NULL,
		    value TEXT,
		    source TEXT,
		    timestamp INTEGER NOT NULL,
		    PRIMARY KEY(sub_device_id, item),
		    FOREIGN KEY(sub_device_id) REFERENCES sub_devices(id) ON DELETE CASCADE
		)`,
	})
}

// 9 -> 10: device scoped resource items.
func (s *Store) migrateDeviceResourceItems() bool {
	return s.execMigration([]string{
		`CREATE TABLE IF NOT EXISTS dev_resource_items (
		    device_id INTEGER NOT NULL,
		    item TEXT NOT NULL,
		    value TEXT,
		    timestamp INTEGER NOT NULL,
		    PRIMARY KEY(device_id, item),
		    FOREIGN KEY(device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
	})
}

// execMigration runs a DDL/DML batch outside an application-level
// transaction. The first failing statement aborts the batch.
func (s *Store) execMigration(stmts []string) bool {
	for _, stmt := range stmts {
		if err := s.exec(stmt); err != nil {
			return false
		}
	}
	return true
}

// addColumnIfMissing introspects the table before altering it instead
// of matching on "duplicate column name" driver messages.
func (s *Store) addColumnIfMissing(table, column, columnType string) error {
	exists, err := s.tableHasColumn(table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnType))
}

func (s *Store) tableHasColumn(table, column string) (bool, error) {
	found := false
	err := s.queryRows(fmt.Sprintf("PRAGMA table_info(%s)", table), func(rows *sql.Rows) error {
		var (
			cid        int
			name       string
			typeName   string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typeName, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
		return nil
	})
	return found, err
}

func (s *Store) tableExists(table string) (bool, error) {
	found := false
	err := s.queryRows(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		found = true
		return nil
	}, table)
	return found, err
}
