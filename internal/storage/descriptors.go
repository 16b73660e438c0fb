package storage

import (
	"database/sql"
	"log/slog"
	"time"
)

// Descriptor is one cached low-level descriptor, keyed by
// (device, endpoint, type).
type Descriptor struct {
	DeviceID  int64
	Endpoint  uint8
	Type      uint16
	Data      []byte
	Timestamp time.Time
}

// PushDescriptor converges the descriptor cache toward at most one row
// per (device, endpoint, type) carrying the latest observed bytes.
// Identical bytes are a no-op; differing bytes update the existing row
// and advance its timestamp; a first sighting inserts.
func (s *Store) PushDescriptor(deviceID int64, endpoint uint8, descType uint16, data []byte) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM device_descriptors
	    WHERE device_id = ? AND endpoint = ? AND type = ? AND data = ?`,
		deviceID, int64(endpoint), int64(descType), data).Scan(&count)
	if err != nil {
		s.logger.Error("descriptor identity check failed", slog.Any("error", err))
		return err
	}
	if count >= 1 {
		return nil
	}

	now := time.Now().Unix()
	res, err := db.Exec(`UPDATE device_descriptors SET data = ?, timestamp = ?
	    WHERE device_id = ? AND endpoint = ? AND type = ?`,
		data, now, deviceID, int64(endpoint), int64(descType))
	if err != nil {
		s.logger.Error("descriptor update failed", slog.Any("error", err))
		return err
	}
	if n, _ := res.RowsAffected(); n >= 1 {
		s.notifyHook("update", "device_descriptors", deviceID)
		return nil
	}

	if _, err := db.Exec(`INSERT INTO device_descriptors (device_id, endpoint, type, data, timestamp)
	    VALUES (?, ?, ?, ?, ?)`,
		deviceID, int64(endpoint), int64(descType), data, now); err != nil {
		s.logger.Error("descriptor insert failed", slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "device_descriptors", deviceID)
	return nil
}

// LoadDescriptors reads every cached descriptor for one device.
func (s *Store) LoadDescriptors(deviceID int64) ([]Descriptor, error) {
	var out []Descriptor
	err := s.queryRows(`SELECT device_id, endpoint, type, data, timestamp FROM device_descriptors
	    WHERE device_id = ?`, func(rows *sql.Rows) error {
		var (
			d        Descriptor
			endpoint int64
			descType int64
			ts       int64
		)
		if err := rows.Scan(&d.DeviceID, &endpoint, &descType, &d.Data, &ts); err != nil {
			return err
		}
		d.Endpoint = uint8(endpoint)
		d.Type = uint16(descType)
		d.Timestamp = secondsToTime(ts)
		out = append(out, d)
		return nil
	}, deviceID)
	return out, err
}
