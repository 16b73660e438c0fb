package storage

import (
	"database/sql"
	"log/slog"
)

// saveGroup writes the legacy groups row. Soft-deleted groups keep
// their row with state = deleted; their scenes are removed in the
// same commit.
func (s *Store) saveGroup(ex execer, g *Group) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO groups (gid, name, state, json, hidden, lightsequence, devicemembership)
	    VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.GID, g.Name, g.State.String(), g.JSON, g.Hidden, g.LightSequence, g.DeviceMembership); err != nil {
		s.logger.Error("group write failed",
			slog.String("gid", g.GID),
			slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "groups", 0)
	return nil
}

func (s *Store) deleteGroup(ex execer, gid string) error {
	return s.execOn(ex, `DELETE FROM groups WHERE gid = ?`, gid)
}

func (s *Store) deleteGroupScenes(ex execer, gid string) error {
	return s.execOn(ex, `DELETE FROM scenes WHERE gid = ?`, gid)
}

// saveScene writes one scene row keyed "<gid>-<sid>".
func (s *Store) saveScene(ex execer, scene *Scene) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO scenes (gsid, gid, sid, name, transitiontime, lights)
	    VALUES (?, ?, ?, ?, ?, ?)`,
		scene.GID+"-"+scene.SID, scene.GID, scene.SID, scene.Name,
		scene.TransitionTime, scene.LightsJSON); err != nil {
		s.logger.Error("scene write failed",
			slog.String("gid", scene.GID),
			slog.String("sid", scene.SID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) deleteScene(ex execer, gid, sid string) error {
	return s.execOn(ex, `DELETE FROM scenes WHERE gsid = ?`, gid+"-"+sid)
}

// LoadGroups hydrates groups and their scenes. Only state = normal
// groups attach; their scenes follow.
func (s *Store) LoadGroups(cache *Cache) error {
	err := s.queryRows(`SELECT gid, COALESCE(name, ''), COALESCE(state, 'normal'), COALESCE(json, ''),
	    COALESCE(hidden, ''), COALESCE(lightsequence, ''), COALESCE(devicemembership, '')
	    FROM groups`, func(rows *sql.Rows) error {
		g := &Group{}
		var state string
		if err := rows.Scan(&g.GID, &g.Name, &state, &g.JSON, &g.Hidden, &g.LightSequence, &g.DeviceMembership); err != nil {
			return err
		}
		g.State = recordStateFromString(state)
		if g.State != StateNormal {
			return nil
		}
		cache.mu.Lock()
		if _, exists := cache.groups[g.GID]; !exists {
			cache.groups[g.GID] = g
		}
		cache.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	return s.queryRows(`SELECT gid, sid, COALESCE(name, ''), COALESCE(transitiontime, ''), COALESCE(lights, '')
	    FROM scenes`, func(rows *sql.Rows) error {
		scene := &Scene{}
		if err := rows.Scan(&scene.GID, &scene.SID, &scene.Name, &scene.TransitionTime, &scene.LightsJSON); err != nil {
			return err
		}
		if _, ok := cache.Group(scene.GID); !ok {
			return nil
		}
		key := scene.GID + "-" + scene.SID
		cache.mu.Lock()
		if _, exists := cache.scenes[key]; !exists {
			cache.scenes[key] = scene
		}
		cache.mu.Unlock()
		return nil
	})
}
