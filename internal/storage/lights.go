package storage

import (
	"database/sql"
	"log/slog"
)

// saveLight replaces the legacy nodes row for a light. The json
// column is opaque and round-trips byte exact.
func (s *Store) saveLight(ex execer, l *LightNode) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO nodes (id, state, mac, name, groups, endpoint, modelid, manufacturername, swbuildid, json)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.State.String(), l.MAC, l.Name, l.GroupsJSON, l.Endpoint,
		l.ModelID, l.ManufacturerName, l.SWBuildID, l.JSON); err != nil {
		s.logger.Error("light node write failed",
			slog.String("id", l.ID),
			slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "nodes", 0)
	return nil
}

func (s *Store) deleteLight(ex execer, id string) error {
	return s.execOn(ex, `DELETE FROM nodes WHERE id = ?`, id)
}

// LoadLights replays the legacy nodes table into the cache. Only
// state = normal rows hydrate. Rows whose product is managed by a DDF
// are skipped after copying manufacturer and model up to the owning
// device; the normalized path owns them from then on.
func (s *Store) LoadLights(cache *Cache, ddf DDFMatcher) error {
	if ddf == nil {
		ddf = nopDDFMatcher{}
	}
	return s.queryRows(`SELECT id, COALESCE(state, 'normal'), COALESCE(mac, ''), COALESCE(name, ''),
	    COALESCE(groups, ''), COALESCE(endpoint, ''), COALESCE(modelid, ''),
	    COALESCE(manufacturername, ''), COALESCE(swbuildid, ''), COALESCE(json, '')
	    FROM nodes`, func(rows *sql.Rows) error {
		l := &LightNode{}
		var state string
		if err := rows.Scan(&l.ID, &state, &l.MAC, &l.Name, &l.GroupsJSON, &l.Endpoint,
			&l.ModelID, &l.ManufacturerName, &l.SWBuildID, &l.JSON); err != nil {
			return err
		}
		l.State = recordStateFromString(state)
		if l.State != StateNormal {
			return nil
		}

		if IsTuyaManufacturer(l.ManufacturerName) && l.ModelID == "" {
			if product, ok := ProductForManufacturer(l.ManufacturerName); ok {
				l.ModelID = product
			}
		}

		if mac, ok := MACFromString(l.MAC); ok {
			if dev, exists := cache.Device(mac); exists {
				if dev.ManufacturerName == "" {
					dev.ManufacturerName = l.ManufacturerName
				}
				if dev.ModelID == "" {
					dev.ModelID = l.ModelID
				}
			}
			if ddf.Managed(l.ManufacturerName, l.ModelID) {
				s.logger.Debug("light row handed off to ddf subsystem",
					slog.String("id", l.ID),
					slog.String("modelid", l.ModelID))
				return nil
			}
		}

		if !cache.attachLight(l) {
			s.logger.Debug("duplicate light id during replay", slog.String("id", l.ID))
		}
		return nil
	})
}
