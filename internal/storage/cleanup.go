package storage

import (
	"database/sql"
	"log/slog"
)

// finalizeMigration applies the cleanups that run after the numbered
// chain: duplicate sensor purge, a fixed list of legacy row fixes,
// session-only views, and the optional tables kept outside the chain
// for historical reasons. All steps are idempotent.
func (s *Store) finalizeMigration() {
	s.purgeDuplicateSensors()
	s.cleanupLegacyRows()
	s.createTempViews()
	s.createOptionalTables()
}

// purgeDuplicateSensors keeps exactly one row per uniqueid among live
// non-CLIP sensors. The survivor is the row with the lexicographically
// highest sid.
// TODO(product review): an earlier convention read the highest sid as
// "first created"; keeping the highest is observed behavior.
func (s *Store) purgeDuplicateSensors() {
	err := s.exec(`DELETE FROM sensors
	    WHERE deletedstate = 'normal'
	      AND type NOT LIKE 'CLIP%'
	      AND uniqueid IS NOT NULL AND uniqueid != ''
	      AND sid NOT IN (
	        SELECT MAX(sid) FROM sensors
	        WHERE deletedstate = 'normal'
	          AND type NOT LIKE 'CLIP%'
	          AND uniqueid IS NOT NULL AND uniqueid != ''
	        GROUP BY uniqueid
	      )`)
	if err != nil {
		s.logger.Error("duplicate sensor purge failed", slog.Any("error", err))
	}
}

// cleanupLegacyRows removes rows written by firmware and early
// releases that later releases can no longer interpret, and rewrites
// the one config value whose old default is harmful.
func (s *Store) cleanupLegacyRows() {
	stmts := []string{
		`DELETE FROM sensors WHERE modelid = 'FLS-NB' AND type = 'ZHALightLevel'`,
		`DELETE FROM sensors WHERE manufacturername = 'nimbus' AND modelid = ''`,
		`DELETE FROM nodes WHERE mac = '' OR mac IS NULL`,
		`UPDATE config2 SET value = '0' WHERE key = 'zclvaluemaxage' AND value = '3600'`,
	}
	for _, stmt := range stmts {
		if err := s.exec(stmt); err != nil {
			s.logger.Error("legacy cleanup statement failed", slog.Any("error", err))
		}
	}
}

// createTempViews builds session-only views joining the normalized
// device tables to the ZCL time series so read-only queries can
// filter by sub-device. The views live on the pinned connection and
// are rebuilt on every reopen.
func (s *Store) createTempViews() {
	db, err := s.conn()
	if err != nil {
		return
	}
	s.createTempViewsOn(db)
}

func (s *Store) createTempViewsOn(db *sql.DB) {
	for _, stmt := range tempViewDDL {
		if _, err := db.Exec(stmt); err != nil {
			s.logger.Error("temp view creation failed", slog.Any("error", err))
		}
	}
}

var tempViewDDL = []string{
	`CREATE TEMP VIEW IF NOT EXISTS sub_device_zcl_values AS
		    SELECT sd.uniqueid AS uniqueid,
		           zv.device_id,
		           zv.endpoint,
		           zv.cluster,
		           zv.attribute,
		           zv.data,
		           zv.timestamp
		    FROM zcl_values zv
		    JOIN devices d ON d.id = zv.device_id
		    JOIN sub_devices sd ON sd.device_id = d.id`,
	`CREATE TEMP VIEW IF NOT EXISTS sensor_zcl_values AS
		    SELECT se.sid AS sid,
		           zv.endpoint,
		           zv.cluster,
		           zv.attribute,
		           zv.data,
		           zv.timestamp
		    FROM zcl_values zv
		    JOIN devices d ON d.id = zv.device_id
		    JOIN sensors se ON substr(se.uniqueid, 1, 23) = d.mac`,
}

// createOptionalTables adds the secrets and alarm system tables. They
// are kept out of the numbered chain; stores of any schema version may
// or may not carry them.
func (s *Store) createOptionalTables() {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS secrets (
		    uniqueid TEXT PRIMARY KEY,
		    secret TEXT,
		    state INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS alarm_systems (
		    id INTEGER PRIMARY KEY,
		    timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alarm_systems_ritems (
		    alarm_system_id INTEGER NOT NULL,
		    item TEXT NOT NULL,
		    value TEXT,
		    timestamp INTEGER NOT NULL,
		    PRIMARY KEY(alarm_system_id, item),
		    FOREIGN KEY(alarm_system_id) REFERENCES alarm_systems(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS alarm_systems_devices (
		    uniqueid TEXT PRIMARY KEY,
		    alarm_system_id INTEGER NOT NULL,
		    flags INTEGER NOT NULL DEFAULT 0,
		    timestamp INTEGER NOT NULL,
		    FOREIGN KEY(alarm_system_id) REFERENCES alarm_systems(id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range stmts {
		if err := s.exec(stmt); err != nil {
			s.logger.Error("optional table creation failed", slog.Any("error", err))
		}
	}
}
