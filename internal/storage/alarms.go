package storage

import (
	"database/sql"
	"log/slog"
)

// saveAlarmSystem writes an alarm system and its per-item resource
// values and device memberships.
func (s *Store) saveAlarmSystem(ex execer, a *AlarmSystem) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO alarm_systems (id, timestamp) VALUES (?, ?)`,
		a.ID, timeToSeconds(a.CreatedAt)); err != nil {
		s.logger.Error("alarm system write failed",
			slog.Int64("id", a.ID),
			slog.Any("error", err))
		return err
	}
	for _, item := range a.Items {
		if _, err := ex.Exec(`INSERT OR REPLACE INTO alarm_systems_ritems (alarm_system_id, item, value, timestamp)
		    VALUES (?, ?, ?, ?)`,
			a.ID, item.Suffix, item.Value, timeToSeconds(item.LastSet)); err != nil {
			s.logger.Error("alarm system item write failed",
				slog.Int64("id", a.ID),
				slog.String("item", item.Suffix),
				slog.Any("error", err))
		}
	}
	for _, dev := range a.Devices {
		if _, err := ex.Exec(`INSERT OR REPLACE INTO alarm_systems_devices (uniqueid, alarm_system_id, flags, timestamp)
		    VALUES (?, ?, ?, ?)`,
			dev.UniqueID, a.ID, int64(dev.Flags), timeToSeconds(dev.CreatedAt)); err != nil {
			s.logger.Error("alarm system device write failed",
				slog.Int64("id", a.ID),
				slog.String("uniqueid", dev.UniqueID),
				slog.Any("error", err))
		}
	}
	return nil
}

// deleteAlarmSystem removes the alarm system row; item and device
// rows cascade.
func (s *Store) deleteAlarmSystem(ex execer, id int64) error {
	return s.execOn(ex, `DELETE FROM alarm_systems WHERE id = ?`, id)
}

// SaveAlarmSystem writes one alarm system immediately; alarm state
// changes do not ride the coalescing path.
func (s *Store) SaveAlarmSystem(a *AlarmSystem) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return s.saveAlarmSystem(db, a)
}

// DeleteAlarmSystem removes one alarm system and its dependent rows.
func (s *Store) DeleteAlarmSystem(id int64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return s.deleteAlarmSystem(db, id)
}

// RemoveAlarmSystemDevice detaches one device membership.
func (s *Store) RemoveAlarmSystemDevice(uniqueid string) error {
	return s.exec(`DELETE FROM alarm_systems_devices WHERE uniqueid = ?`, uniqueid)
}

// LoadAlarmSystems hydrates alarm systems with their items and
// device memberships.
func (s *Store) LoadAlarmSystems(cache *Cache) error {
	err := s.queryRows(`SELECT id, timestamp FROM alarm_systems`, func(rows *sql.Rows) error {
		var (
			id int64
			ts int64
		)
		if err := rows.Scan(&id, &ts); err != nil {
			return err
		}
		cache.mu.Lock()
		if _, exists := cache.alarmSystems[id]; !exists {
			cache.alarmSystems[id] = &AlarmSystem{
				ID:        id,
				CreatedAt: secondsToTime(ts),
				Items:     make(map[string]*ResourceItem),
				Devices:   make(map[string]AlarmSystemDevice),
			}
		}
		cache.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	err = s.queryRows(`SELECT alarm_system_id, item, COALESCE(value, ''), timestamp FROM alarm_systems_ritems`, func(rows *sql.Rows) error {
		var (
			id    int64
			item  string
			value string
			ts    int64
		)
		if err := rows.Scan(&id, &item, &value, &ts); err != nil {
			return err
		}
		if a, ok := cache.AlarmSystem(id); ok {
			if _, exists := a.Items[item]; !exists {
				a.Items[item] = &ResourceItem{Suffix: item, Value: value, LastSet: secondsToTime(ts)}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.queryRows(`SELECT uniqueid, alarm_system_id, flags, timestamp FROM alarm_systems_devices`, func(rows *sql.Rows) error {
		var (
			uniqueid string
			id       int64
			flags    int64
			ts       int64
		)
		if err := rows.Scan(&uniqueid, &id, &flags, &ts); err != nil {
			return err
		}
		if a, ok := cache.AlarmSystem(id); ok {
			if _, exists := a.Devices[uniqueid]; !exists {
				a.Devices[uniqueid] = AlarmSystemDevice{
					UniqueID:  uniqueid,
					Flags:     uint32(flags),
					CreatedAt: secondsToTime(ts),
				}
			}
		}
		return nil
	})
}
