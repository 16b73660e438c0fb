package storage

import (
	"database/sql"
	"log/slog"
)

// isKnownConfigKey reports whether a config scalar is recognized.
// Unknown keys are ignored on read and only preserved when explicitly
// written.
func isKnownConfigKey(key string) bool {
	switch key {
	case "name", "announceinterval", "announceurl", "rfconnect",
		"networkopenduration", "timeformat", "timezone", "rgbwdisplay",
		"zigbeechannel", "group0", "updatechannel", "gwusername",
		"gwpassword", "uuid", "otauactive",
		"wifi", "wifitype", "wifiname", "wifichannel", "wifiip", "wifipw",
		"bridgeid", "websocketport", "websocketnotifyall",
		"disablePermitJoinAutoOff", "proxyaddress", "proxyport",
		"swupdatestate", "zclvaluemaxage", "lightlastseeninterval":
		return true
	}
	return false
}

// saveConfig writes every cached config scalar. One row per key.
func (s *Store) saveConfig(ex execer, cache *Cache) error {
	cache.mu.RLock()
	pairs := make([][2]string, 0, len(cache.config))
	for k, v := range cache.config {
		pairs = append(pairs, [2]string{k, v})
	}
	cache.mu.RUnlock()

	for _, kv := range pairs {
		if _, err := ex.Exec(`INSERT OR REPLACE INTO config2 (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			s.logger.Error("config scalar write failed",
				slog.String("key", kv[0]),
				slog.Any("error", err))
		}
	}
	return nil
}

// LoadConfig hydrates recognized config scalars into the cache.
func (s *Store) LoadConfig(cache *Cache) error {
	return s.queryRows(`SELECT key, COALESCE(value, '') FROM config2`, func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if !isKnownConfigKey(key) {
			return nil
		}
		cache.mu.Lock()
		cache.config[key] = value
		cache.mu.Unlock()
		return nil
	})
}

// saveUserParams writes every cached user parameter.
func (s *Store) saveUserParams(ex execer, cache *Cache) error {
	cache.mu.RLock()
	pairs := make([][2]string, 0, len(cache.userParams))
	for k, v := range cache.userParams {
		pairs = append(pairs, [2]string{k, v})
	}
	cache.mu.RUnlock()

	for _, kv := range pairs {
		if _, err := ex.Exec(`INSERT OR REPLACE INTO userparameter (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			s.logger.Error("user parameter write failed",
				slog.String("key", kv[0]),
				slog.Any("error", err))
		}
	}
	return nil
}

// LoadUserParams hydrates user parameters into the cache.
func (s *Store) LoadUserParams(cache *Cache) error {
	return s.queryRows(`SELECT key, COALESCE(value, '') FROM userparameter`, func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		cache.mu.Lock()
		if _, exists := cache.userParams[key]; !exists {
			cache.userParams[key] = value
		}
		cache.mu.Unlock()
		return nil
	})
}
