package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// UpsertDevice records a device sighting. If a row for the MAC exists
// its synthetic id and creation time are preserved; a changed NWK
// address is updated in place. New rows get creation time "now" and
// the freshly assigned id is read back.
func (s *Store) UpsertDevice(mac uint64, nwk uint16) (id int64, createdAt time.Time, err error) {
	db, err := s.conn()
	if err != nil {
		return 0, time.Time{}, err
	}

	macStr := MACToString(mac)
	var storedNwk sql.NullInt64
	var ts int64
	err = db.QueryRow(`SELECT id, nwk, timestamp FROM devices WHERE mac = ?`, macStr).
		Scan(&id, &storedNwk, &ts)
	switch {
	case err == nil:
		if storedNwk.Valid && uint16(storedNwk.Int64) == nwk {
			return id, secondsToTime(ts), nil
		}
		if _, err := db.Exec(`UPDATE devices SET nwk = ? WHERE id = ?`, int64(nwk), id); err != nil {
			s.logger.Error("device nwk update failed",
				slog.String("mac", macStr),
				slog.Any("error", err))
			return 0, time.Time{}, err
		}
		s.notifyHook("update", "devices", id)
		return id, secondsToTime(ts), nil

	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().Unix()
		if _, err := db.Exec(`INSERT INTO devices (mac, nwk, timestamp) VALUES (?, ?, ?)`,
			macStr, int64(nwk), now); err != nil {
			s.logger.Error("device insert failed",
				slog.String("mac", macStr),
				slog.Any("error", err))
			return 0, time.Time{}, err
		}
		if err := db.QueryRow(`SELECT id FROM devices WHERE mac = ?`, macStr).Scan(&id); err != nil {
			return 0, time.Time{}, fmt.Errorf("storage: re-read device id: %w", err)
		}
		s.notifyHook("insert", "devices", id)
		return id, secondsToTime(now), nil

	default:
		s.logger.Error("device lookup failed",
			slog.String("mac", macStr),
			slog.Any("error", err))
		return 0, time.Time{}, err
	}
}

// DeviceID resolves the synthetic id for a MAC. Zero means unknown.
func (s *Store) DeviceID(mac uint64) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRow(`SELECT id FROM devices WHERE mac = ?`, MACToString(mac)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// DeleteDevice hard-deletes a device row. Sub-devices, resource
// items, descriptor cache rows, source routes and hop rows disappear
// through the ON DELETE CASCADE foreign keys.
func (s *Store) DeleteDevice(mac uint64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.Exec(`DELETE FROM devices WHERE mac = ?`, MACToString(mac))
	if err != nil {
		s.logger.Error("device delete failed",
			slog.String("mac", MACToString(mac)),
			slog.Any("error", err))
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notifyHook("delete", "devices", 0)
	}
	return nil
}

// LoadDevices hydrates the normalized device table into the cache.
// Rows already attached keep their in-memory identity.
func (s *Store) LoadDevices(cache *Cache) error {
	return s.queryRows(`SELECT id, mac, COALESCE(nwk, 0), timestamp FROM devices`, func(rows *sql.Rows) error {
		var (
			id  int64
			mac string
			nwk int64
			ts  int64
		)
		if err := rows.Scan(&id, &mac, &nwk, &ts); err != nil {
			return err
		}
		numeric, ok := MACFromString(mac)
		if !ok {
			s.logger.Debug("skipping device row with malformed mac", slog.String("mac", mac))
			return nil
		}
		cache.attachDevice(&Device{
			ID:        id,
			MAC:       numeric,
			NWK:       uint16(nwk),
			CreatedAt: secondsToTime(ts),
		})
		return nil
	})
}
