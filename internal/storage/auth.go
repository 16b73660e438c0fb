package storage

import (
	"database/sql"
	"log/slog"
)

// saveAuthToken replaces the row for an apikey. Timestamps are stored
// as UTC yyyy-MM-ddTHH:mm:ss strings; LastUsed is floored to
// CreateDate so createdate never exceeds lastusedate on disk.
func (s *Store) saveAuthToken(ex execer, t *AuthToken) error {
	lastUsed := t.LastUsed
	if lastUsed.Before(t.CreateDate) {
		lastUsed = t.CreateDate
	}
	if _, err := ex.Exec(`INSERT OR REPLACE INTO auth (apikey, devicetype, createdate, lastusedate, useragent)
	    VALUES (?, ?, ?, ?, ?)`,
		t.APIKey, t.DeviceType, formatAuthTime(t.CreateDate), formatAuthTime(lastUsed), t.UserAgent); err != nil {
		s.logger.Error("auth token write failed",
			slog.String("apikey", t.APIKey),
			slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "auth", 0)
	return nil
}

func (s *Store) deleteAuthToken(ex execer, apikey string) error {
	return s.execOn(ex, `DELETE FROM auth WHERE apikey = ?`, apikey)
}

// LoadAuthTokens hydrates every auth row into the cache.
func (s *Store) LoadAuthTokens(cache *Cache) error {
	return s.queryRows(`SELECT apikey, COALESCE(devicetype, ''), COALESCE(createdate, ''), COALESCE(lastusedate, ''), COALESCE(useragent, '') FROM auth`, func(rows *sql.Rows) error {
		var (
			apikey     string
			deviceType string
			created    string
			lastUsed   string
			userAgent  string
		)
		if err := rows.Scan(&apikey, &deviceType, &created, &lastUsed, &userAgent); err != nil {
			return err
		}
		cache.mu.Lock()
		if _, exists := cache.auth[apikey]; !exists {
			cache.auth[apikey] = &AuthToken{
				APIKey:     apikey,
				DeviceType: deviceType,
				CreateDate: parseAuthTime(created),
				LastUsed:   parseAuthTime(lastUsed),
				UserAgent:  userAgent,
			}
		}
		cache.mu.Unlock()
		return nil
	})
}
