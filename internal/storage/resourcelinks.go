package storage

import (
	"database/sql"
	"log/slog"
)

// saveResourcelink writes one resourcelink row; the payload is opaque
// JSON.
func (s *Store) saveResourcelink(ex execer, r *Resourcelink) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO resourcelinks (id, json, state) VALUES (?, ?, ?)`,
		r.ID, r.JSON, r.State.String()); err != nil {
		s.logger.Error("resourcelink write failed",
			slog.String("id", r.ID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) deleteResourcelink(ex execer, id string) error {
	return s.execOn(ex, `DELETE FROM resourcelinks WHERE id = ?`, id)
}

// LoadResourcelinks hydrates state = normal resourcelinks.
func (s *Store) LoadResourcelinks(cache *Cache) error {
	return s.queryRows(`SELECT id, COALESCE(json, ''), COALESCE(state, 'normal') FROM resourcelinks`, func(rows *sql.Rows) error {
		r := &Resourcelink{}
		var state string
		if err := rows.Scan(&r.ID, &r.JSON, &state); err != nil {
			return err
		}
		r.State = recordStateFromString(state)
		if r.State != StateNormal {
			return nil
		}
		cache.mu.Lock()
		if _, exists := cache.resourcelinks[r.ID]; !exists {
			cache.resourcelinks[r.ID] = r
		}
		cache.mu.Unlock()
		return nil
	})
}
