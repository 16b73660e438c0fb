package storage

import (
	"database/sql"
	"log/slog"
)

// saveSensor replaces the legacy sensors row. The state and config
// columns carry opaque JSON owned by external collaborators and
// round-trip byte exact.
func (s *Store) saveSensor(ex execer, sensor *Sensor) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO sensors
	    (sid, name, type, state, config, fingerprint, deletedstate, mode, uniqueid, manufacturername, modelid, swversion, lastseen, lastannounced)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sensor.SID, sensor.Name, sensor.Type, sensor.StateJSON, sensor.ConfigJSON,
		sensor.Fingerprint, sensor.DeletedState.String(), sensor.Mode, sensor.UniqueID,
		sensor.ManufacturerName, sensor.ModelID, sensor.SWVersion,
		sensor.LastSeen, sensor.LastAnnounced); err != nil {
		s.logger.Error("sensor write failed",
			slog.String("sid", sensor.SID),
			slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "sensors", 0)
	return nil
}

func (s *Store) deleteSensor(ex execer, sid string) error {
	return s.execOn(ex, `DELETE FROM sensors WHERE sid = ?`, sid)
}

// LoadSensors replays the legacy sensors table. Per row the
// materialization recovers endpoint and cluster from the uniqueid,
// normalizes Tuya product names, detects duplicate ids, bootstraps
// type-specific resource items and hands managed-DDF rows off to the
// normalized path after copying manufacturer and model up to the
// owning device.
func (s *Store) LoadSensors(cache *Cache, ddf DDFMatcher) error {
	if ddf == nil {
		ddf = nopDDFMatcher{}
	}
	return s.queryRows(`SELECT sid, COALESCE(name, ''), COALESCE(type, ''), COALESCE(state, ''),
	    COALESCE(config, ''), COALESCE(fingerprint, ''), COALESCE(deletedstate, 'normal'),
	    COALESCE(mode, ''), COALESCE(uniqueid, ''), COALESCE(manufacturername, ''),
	    COALESCE(modelid, ''), COALESCE(swversion, ''), COALESCE(lastseen, ''), COALESCE(lastannounced, '')
	    FROM sensors`, func(rows *sql.Rows) error {
		sensor := &Sensor{}
		var deletedState string
		if err := rows.Scan(&sensor.SID, &sensor.Name, &sensor.Type, &sensor.StateJSON,
			&sensor.ConfigJSON, &sensor.Fingerprint, &deletedState, &sensor.Mode,
			&sensor.UniqueID, &sensor.ManufacturerName, &sensor.ModelID,
			&sensor.SWVersion, &sensor.LastSeen, &sensor.LastAnnounced); err != nil {
			return err
		}
		sensor.DeletedState = recordStateFromString(deletedState)
		if sensor.DeletedState != StateNormal {
			return nil
		}

		mac, endpoint, cluster, ok := ParseUniqueID(sensor.UniqueID)
		if ok {
			sensor.Endpoint = endpoint
			sensor.Cluster = cluster
		}

		if IsTuyaManufacturer(sensor.ManufacturerName) && sensor.ModelID == "" {
			if product, found := ProductForManufacturer(sensor.ManufacturerName); found {
				sensor.ModelID = product
			}
		}

		if ok {
			if dev, exists := cache.Device(mac); exists {
				if dev.ManufacturerName == "" {
					dev.ManufacturerName = sensor.ManufacturerName
				}
				if dev.ModelID == "" {
					dev.ModelID = sensor.ModelID
				}
			}
			if ddf.Managed(sensor.ManufacturerName, sensor.ModelID) {
				sensor.HandledByDDF = true
				s.logger.Debug("sensor row handed off to ddf subsystem",
					slog.String("sid", sensor.SID),
					slog.String("modelid", sensor.ModelID))
				return nil
			}
		}

		if !cache.attachSensor(sensor) {
			s.logger.Debug("duplicate sensor id during replay",
				slog.String("sid", sensor.SID),
				slog.String("uniqueid", sensor.UniqueID))
			return nil
		}

		s.bootstrapSensorItems(cache, sensor)
		return nil
	})
}

// bootstrapSensorItems attaches the resource items a freshly loaded
// sensor of a given type is expected to carry, without overwriting
// values hydrated from the resource_items table.
func (s *Store) bootstrapSensorItems(cache *Cache, sensor *Sensor) {
	suffixes := sensorItemSuffixes(sensor.Type)
	if len(suffixes) == 0 || sensor.UniqueID == "" {
		return
	}
	sub, ok := cache.SubDevice(sensor.UniqueID)
	if !ok {
		return
	}
	for _, suffix := range suffixes {
		if _, exists := sub.Items[suffix]; !exists {
			sub.Items[suffix] = &ResourceItem{Suffix: suffix}
		}
	}
}

func sensorItemSuffixes(sensorType string) []string {
	switch sensorType {
	case "ZHAPresence":
		return []string{"state/presence", "config/duration", "config/delay"}
	case "ZHALightLevel":
		return []string{"state/lux", "state/lightlevel", "config/tholddark", "config/tholdoffset"}
	case "ZHATemperature":
		return []string{"state/temperature", "config/offset"}
	case "ZHAHumidity":
		return []string{"state/humidity", "config/offset"}
	case "ZHAPressure":
		return []string{"state/pressure"}
	case "ZHAOpenClose":
		return []string{"state/open"}
	case "ZHASwitch":
		return []string{"state/buttonevent"}
	case "ZHAConsumption":
		return []string{"state/consumption"}
	case "ZHAPower":
		return []string{"state/power", "state/voltage", "state/current"}
	case "ZHABattery":
		return []string{"state/battery"}
	default:
		return nil
	}
}
