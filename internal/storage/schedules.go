package storage

import (
	"database/sql"
	"log/slog"
)

// saveSchedule writes the legacy schedules row. The json column is
// an opaque payload.
func (s *Store) saveSchedule(ex execer, sch *Schedule) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO schedules (id, json, status, activation, state)
	    VALUES (?, ?, ?, ?, ?)`,
		sch.ID, sch.JSON, sch.Status, sch.Activation, sch.State.String()); err != nil {
		s.logger.Error("schedule write failed",
			slog.String("id", sch.ID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) deleteSchedule(ex execer, id string) error {
	return s.execOn(ex, `DELETE FROM schedules WHERE id = ?`, id)
}

// LoadSchedules hydrates state = normal schedules into the cache.
func (s *Store) LoadSchedules(cache *Cache) error {
	return s.queryRows(`SELECT id, COALESCE(json, ''), COALESCE(status, ''), COALESCE(activation, ''), COALESCE(state, 'normal')
	    FROM schedules`, func(rows *sql.Rows) error {
		sch := &Schedule{}
		var state string
		if err := rows.Scan(&sch.ID, &sch.JSON, &sch.Status, &sch.Activation, &state); err != nil {
			return err
		}
		sch.State = recordStateFromString(state)
		if sch.State != StateNormal {
			return nil
		}
		cache.mu.Lock()
		if _, exists := cache.schedules[sch.ID]; !exists {
			cache.schedules[sch.ID] = sch
		}
		cache.mu.Unlock()
		return nil
	})
}
