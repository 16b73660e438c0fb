package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EnsureSubDevice inserts a sub-device row for a uniqueid if absent
// and returns its synthetic id. The endpoint byte encoded in the
// uniqueid must be inside the application range.
func (s *Store) EnsureSubDevice(deviceID int64, uniqueid string) (int64, error) {
	_, ep, _, ok := ParseUniqueID(uniqueid)
	if !ok || !validEndpoint(ep) {
		s.logger.Debug("rejecting sub-device with invalid uniqueid", slog.String("uniqueid", uniqueid))
		return 0, fmt.Errorf("storage: invalid uniqueid %q", uniqueid)
	}

	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.QueryRow(`SELECT id FROM sub_devices WHERE uniqueid = ?`, uniqueid).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if _, err := db.Exec(`INSERT INTO sub_devices (device_id, uniqueid, timestamp) VALUES (?, ?, ?)`,
		deviceID, uniqueid, time.Now().Unix()); err != nil {
		s.logger.Error("sub-device insert failed",
			slog.String("uniqueid", uniqueid),
			slog.Any("error", err))
		return 0, err
	}
	if err := db.QueryRow(`SELECT id FROM sub_devices WHERE uniqueid = ?`, uniqueid).Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: re-read sub-device id: %w", err)
	}
	s.notifyHook("insert", "sub_devices", id)
	return id, nil
}

// LoadSubDevices hydrates sub-devices and their resource items.
func (s *Store) LoadSubDevices(cache *Cache) error {
	err := s.queryRows(`SELECT id, device_id, uniqueid, timestamp FROM sub_devices`, func(rows *sql.Rows) error {
		var (
			id       int64
			deviceID int64
			uniqueid string
			ts       int64
		)
		if err := rows.Scan(&id, &deviceID, &uniqueid, &ts); err != nil {
			return err
		}
		cache.attachSubDevice(&SubDevice{
			ID:        id,
			DeviceID:  deviceID,
			UniqueID:  uniqueid,
			CreatedAt: secondsToTime(ts),
			Items:     make(map[string]*ResourceItem),
		})
		return nil
	})
	if err != nil {
		return err
	}

	return s.queryRows(`SELECT sd.uniqueid, ri.item, COALESCE(ri.value, ''), COALESCE(ri.source, ''), ri.timestamp
	    FROM resource_items ri
	    JOIN sub_devices sd ON sd.id = ri.sub_device_id`, func(rows *sql.Rows) error {
		var (
			uniqueid string
			item     string
			value    string
			source   string
			ts       int64
		)
		if err := rows.Scan(&uniqueid, &item, &value, &source, &ts); err != nil {
			return err
		}
		if sub, ok := cache.SubDevice(uniqueid); ok {
			if _, exists := sub.Items[item]; !exists {
				sub.Items[item] = &ResourceItem{
					Suffix:  item,
					Value:   value,
					Source:  source,
					LastSet: secondsToTime(ts),
				}
			}
		}
		return nil
	})
}

const (
	defaultStoreDelay     = 600 * time.Second
	constrainedStoreDelay = 1800 * time.Second
	capStoreDelay         = 84000 * time.Second
)

// storeDelayFor returns the minimum gap enforced between writes of a
// resource item. DDF declared refresh intervals widen the window when
// three quarters of the interval exceeds the platform default. cap/*
// items practically never change and get a day-scale window.
func (s *Store) storeDelayFor(suffix string, ddfRefresh time.Duration) time.Duration {
	if len(suffix) >= 4 && suffix[:4] == "cap/" {
		return capStoreDelay
	}
	delay := defaultStoreDelay
	if s.cfg.ConstrainedPlatform {
		delay = constrainedStoreDelay
	}
	if ddfRefresh > 0 {
		if scaled := ddfRefresh * 3 / 4; scaled > delay {
			delay = scaled
		}
	}
	return delay
}

// UpsertResourceItem writes one sub-device scoped resource item,
// absorbing writes that would only churn flash: an unchanged value
// inside the store-delay window is skipped entirely, and state/*
// items are skipped inside the window even when the value changed.
// Reported true means a row was written.
func (s *Store) UpsertResourceItem(subDeviceID int64, item *ResourceItem, ddfRefresh time.Duration) (bool, error) {
	if item == nil || item.Suffix == "" {
		return false, errors.New("storage: resource item suffix must be provided")
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	now := time.Now()
	delay := s.storeDelayFor(item.Suffix, ddfRefresh)
	if item.StoreDelay > 0 {
		delay = item.StoreDelay
	}

	var (
		stored   string
		storedTS int64
	)
	err = db.QueryRow(`SELECT COALESCE(value, ''), timestamp FROM resource_items
	    WHERE sub_device_id = ? AND item = ?`, subDeviceID, item.Suffix).Scan(&stored, &storedTS)
	if err == nil {
		elapsed := now.Sub(secondsToTime(storedTS))
		if stored == item.Value && elapsed < delay {
			s.metrics.IncWriteAbsorbed()
			return false, nil
		}
		if stored != item.Value && isStateSuffix(item.Suffix) && elapsed < delay {
			s.metrics.IncWriteAbsorbed()
			return false, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if _, err := db.Exec(`INSERT OR REPLACE INTO resource_items (sub_device_id, item, value, source, timestamp)
	    VALUES (?, ?, ?, ?, ?)`,
		subDeviceID, item.Suffix, item.Value, item.Source, now.Unix()); err != nil {
		s.logger.Error("resource item write failed",
			slog.Int64("sub_device_id", subDeviceID),
			slog.String("item", item.Suffix),
			slog.Any("error", err))
		return false, err
	}
	item.LastSet = now
	s.notifyHook("insert", "resource_items", subDeviceID)
	return true, nil
}

// UpsertDeviceResourceItem writes one device scoped resource item with
// the same write-absorbing filter as the sub-device scope.
func (s *Store) UpsertDeviceResourceItem(deviceID int64, item *ResourceItem, ddfRefresh time.Duration) (bool, error) {
	if item == nil || item.Suffix == "" {
		return false, errors.New("storage: resource item suffix must be provided")
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	now := time.Now()
	delay := s.storeDelayFor(item.Suffix, ddfRefresh)
	if item.StoreDelay > 0 {
		delay = item.StoreDelay
	}

	var (
		stored   string
		storedTS int64
	)
	err = db.QueryRow(`SELECT COALESCE(value, ''), timestamp FROM dev_resource_items
	    WHERE device_id = ? AND item = ?`, deviceID, item.Suffix).Scan(&stored, &storedTS)
	if err == nil {
		elapsed := now.Sub(secondsToTime(storedTS))
		if stored == item.Value && elapsed < delay {
			s.metrics.IncWriteAbsorbed()
			return false, nil
		}
		if stored != item.Value && isStateSuffix(item.Suffix) && elapsed < delay {
			s.metrics.IncWriteAbsorbed()
			return false, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if _, err := db.Exec(`INSERT OR REPLACE INTO dev_resource_items (device_id, item, value, timestamp)
	    VALUES (?, ?, ?, ?)`,
		deviceID, item.Suffix, item.Value, now.Unix()); err != nil {
		s.logger.Error("device resource item write failed",
			slog.Int64("device_id", deviceID),
			slog.String("item", item.Suffix),
			slog.Any("error", err))
		return false, err
	}
	item.LastSet = now
	s.notifyHook("insert", "dev_resource_items", deviceID)
	return true, nil
}

// LoadDeviceResourceItems hydrates device scoped resource items into
// the cache, keyed by device id.
func (s *Store) LoadDeviceResourceItems(cache *Cache) error {
	return s.queryRows(`SELECT device_id, item, COALESCE(value, ''), timestamp FROM dev_resource_items`, func(rows *sql.Rows) error {
		var (
			deviceID int64
			item     string
			value    string
			ts       int64
		)
		if err := rows.Scan(&deviceID, &item, &value, &ts); err != nil {
			return err
		}
		cache.mu.Lock()
		items, ok := cache.devItems[deviceID]
		if !ok {
			items = make(map[string]*ResourceItem)
			cache.devItems[deviceID] = items
		}
		if _, exists := items[item]; !exists {
			items[item] = &ResourceItem{
				Suffix:  item,
				Value:   value,
				LastSet: secondsToTime(ts),
			}
		}
		cache.mu.Unlock()
		return nil
	})
}

func isStateSuffix(suffix string) bool {
	return len(suffix) >= 6 && suffix[:6] == "state/"
}
