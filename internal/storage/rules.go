package storage

import (
	"database/sql"
	"log/slog"
)

// saveRule writes the legacy rules row. Action and condition payloads
// are opaque JSON.
func (s *Store) saveRule(ex execer, r *Rule) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO rules
	    (rid, name, created, etag, lasttriggered, owner, status, timestriggered, actions, conditions, periodic, state)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RID, r.Name, r.Created, r.ETag, r.LastTriggered, r.Owner, r.Status,
		r.TimesTriggered, r.Actions, r.Conditions, r.Periodic, r.State.String()); err != nil {
		s.logger.Error("rule write failed",
			slog.String("rid", r.RID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) deleteRule(ex execer, rid string) error {
	return s.execOn(ex, `DELETE FROM rules WHERE rid = ?`, rid)
}

// LoadRules hydrates state = normal rules into the cache.
func (s *Store) LoadRules(cache *Cache) error {
	return s.queryRows(`SELECT rid, COALESCE(name, ''), COALESCE(created, ''), COALESCE(etag, ''),
	    COALESCE(lasttriggered, ''), COALESCE(owner, ''), COALESCE(status, ''),
	    COALESCE(timestriggered, ''), COALESCE(actions, ''), COALESCE(conditions, ''),
	    COALESCE(periodic, 0), COALESCE(state, 'normal')
	    FROM rules`, func(rows *sql.Rows) error {
		r := &Rule{}
		var state string
		if err := rows.Scan(&r.RID, &r.Name, &r.Created, &r.ETag, &r.LastTriggered,
			&r.Owner, &r.Status, &r.TimesTriggered, &r.Actions, &r.Conditions,
			&r.Periodic, &state); err != nil {
			return err
		}
		r.State = recordStateFromString(state)
		if r.State != StateNormal {
			return nil
		}
		cache.mu.Lock()
		if _, exists := cache.rules[r.RID]; !exists {
			cache.rules[r.RID] = r
		}
		cache.mu.Unlock()
		return nil
	})
}
