package storage

import (
	"database/sql"
	"log/slog"
)

// saveGateway writes one paired-gateway row.
func (s *Store) saveGateway(ex execer, g *GatewayLink) error {
	pairing := "false"
	if g.Pairing {
		pairing = "true"
	}
	if _, err := ex.Exec(`INSERT OR REPLACE INTO gateways (uuid, name, ip, port, pairing, apikey, cgroups, state)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.UUID, g.Name, g.IP, g.Port, pairing, g.APIKey, g.CGroupsJSON, g.State.String()); err != nil {
		s.logger.Error("gateway write failed",
			slog.String("uuid", g.UUID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) deleteGateway(ex execer, uuid string) error {
	return s.execOn(ex, `DELETE FROM gateways WHERE uuid = ?`, uuid)
}

// LoadGateways hydrates state = normal gateway links into the cache.
func (s *Store) LoadGateways(cache *Cache) error {
	return s.queryRows(`SELECT uuid, COALESCE(name, ''), COALESCE(ip, ''), COALESCE(port, 0),
	    COALESCE(pairing, 'false'), COALESCE(apikey, ''), COALESCE(cgroups, ''), COALESCE(state, 'normal')
	    FROM gateways`, func(rows *sql.Rows) error {
		g := &GatewayLink{}
		var pairing, state string
		if err := rows.Scan(&g.UUID, &g.Name, &g.IP, &g.Port, &pairing, &g.APIKey, &g.CGroupsJSON, &state); err != nil {
			return err
		}
		g.Pairing = pairing == "true"
		g.State = recordStateFromString(state)
		if g.State != StateNormal {
			return nil
		}
		cache.mu.Lock()
		if _, exists := cache.gateways[g.UUID]; !exists {
			cache.gateways[g.UUID] = g
		}
		cache.mu.Unlock()
		return nil
	})
}
