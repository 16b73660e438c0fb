package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RouteActivator is implemented by the routing subsystem; restored
// routes are handed over for activation.
type RouteActivator interface {
	ActivateRoute(routeUUID string, destMAC uint64, hopMACs []uint64)
}

// NewSourceRoute builds a route toward destMAC whose final hop is the
// destination itself.
func NewSourceRoute(destMAC uint64, order int, hopMACs []uint64) *SourceRoute {
	return &SourceRoute{
		UUID:      uuid.NewString(),
		DestMAC:   destMAC,
		Order:     order,
		HopMACs:   hopMACs,
		CreatedAt: time.Now(),
	}
}

// StoreSourceRoute persists a route header and its ordered hop rows.
// Routes with fewer than two hops (destination inclusive) are
// rejected. The header uses insert-or-replace semantics; hop rows are
// rewritten wholesale so the hops column and hop-row count agree.
func (s *Store) StoreSourceRoute(route *SourceRoute) error {
	if route == nil {
		return fmt.Errorf("storage: nil source route")
	}
	if len(route.HopMACs) < 2 {
		s.logger.Debug("rejecting source route with too few hops",
			slog.String("uuid", route.UUID),
			slog.Int("hops", len(route.HopMACs)))
		return fmt.Errorf("storage: source route %s needs at least two hops", route.UUID)
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	destID, err := s.DeviceID(route.DestMAC)
	if err != nil {
		return err
	}
	if destID == 0 {
		return fmt.Errorf("storage: source route %s destination %s unknown", route.UUID, MACToString(route.DestMAC))
	}

	if _, err := db.Exec(`INSERT OR REPLACE INTO source_routes (uuid, dest_device_id, route_order, hops, timestamp)
	    VALUES (?, ?, ?, ?, ?)`,
		route.UUID, destID, route.Order, len(route.HopMACs), timeToSeconds(route.CreatedAt)); err != nil {
		s.logger.Error("source route header write failed",
			slog.String("uuid", route.UUID),
			slog.Any("error", err))
		return err
	}
	if _, err := db.Exec(`DELETE FROM source_route_hops WHERE source_route_uuid = ?`, route.UUID); err != nil {
		return err
	}

	for i, hopMAC := range route.HopMACs {
		hopID, err := s.DeviceID(hopMAC)
		if err != nil {
			return err
		}
		if hopID == 0 {
			s.logger.Debug("skipping source route hop for unknown device",
				slog.String("uuid", route.UUID),
				slog.String("mac", MACToString(hopMAC)))
			continue
		}
		if _, err := db.Exec(`INSERT INTO source_route_hops (source_route_uuid, hop, device_id)
		    VALUES (?, ?, ?)`, route.UUID, i, hopID); err != nil {
			s.logger.Error("source route hop write failed",
				slog.String("uuid", route.UUID),
				slog.Int("hop", i),
				slog.Any("error", err))
			return err
		}
	}
	s.notifyHook("insert", "source_routes", 0)
	return nil
}

// DeleteSourceRoute removes a route header; hop rows cascade.
func (s *Store) DeleteSourceRoute(routeUUID string) error {
	return s.exec(`DELETE FROM source_routes WHERE uuid = ?`, routeUUID)
}

// RestoreSourceRoutes hydrates route headers, recovers hop MAC
// addresses through the device table and hands routes with at least
// two surviving hops to the activator. A route whose hop rows were
// thinned by cascaded device deletion is kept in the cache but not
// activated.
func (s *Store) RestoreSourceRoutes(cache *Cache, activator RouteActivator) error {
	type header struct {
		uuid   string
		destID int64
		order  int
		hops   int
		ts     int64
	}
	var headers []header

	err := s.queryRows(`SELECT uuid, dest_device_id, route_order, hops, timestamp FROM source_routes`, func(rows *sql.Rows) error {
		var h header
		if err := rows.Scan(&h.uuid, &h.destID, &h.order, &h.hops, &h.ts); err != nil {
			return err
		}
		headers = append(headers, h)
		return nil
	})
	if err != nil {
		return err
	}

	for _, h := range headers {
		var destMAC uint64
		var hopMACs []uint64

		err := s.queryRows(`SELECT d.mac FROM source_route_hops h
		    JOIN devices d ON d.id = h.device_id
		    WHERE h.source_route_uuid = ?
		    ORDER BY h.hop`, func(rows *sql.Rows) error {
			var mac string
			if err := rows.Scan(&mac); err != nil {
				return err
			}
			if numeric, ok := MACFromString(mac); ok {
				hopMACs = append(hopMACs, numeric)
			}
			return nil
		}, h.uuid)
		if err != nil {
			return err
		}

		err = s.queryRows(`SELECT mac FROM devices WHERE id = ?`, func(rows *sql.Rows) error {
			var mac string
			if err := rows.Scan(&mac); err != nil {
				return err
			}
			if numeric, ok := MACFromString(mac); ok {
				destMAC = numeric
			}
			return nil
		}, h.destID)
		if err != nil {
			return err
		}

		route := &SourceRoute{
			UUID:      h.uuid,
			DestMAC:   destMAC,
			Order:     h.order,
			HopMACs:   hopMACs,
			CreatedAt: secondsToTime(h.ts),
		}
		route.NeedSave = false
		cache.mu.Lock()
		if _, exists := cache.sourceRoutes[route.UUID]; !exists {
			cache.sourceRoutes[route.UUID] = route
		}
		cache.mu.Unlock()

		if len(hopMACs) >= 2 && activator != nil {
			activator.ActivateRoute(h.uuid, destMAC, hopMACs)
		}
	}
	return nil
}
