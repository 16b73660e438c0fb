package storage

import (
	"database/sql"
	"log/slog"
)

// saveSecret replaces the stored credential for a uniqueid.
func (s *Store) saveSecret(ex execer, sec *Secret) error {
	if _, err := ex.Exec(`INSERT OR REPLACE INTO secrets (uniqueid, secret, state) VALUES (?, ?, ?)`,
		sec.UniqueID, sec.Secret, sec.State); err != nil {
		s.logger.Error("secret write failed",
			slog.String("uniqueid", sec.UniqueID),
			slog.Any("error", err))
		return err
	}
	return nil
}

// SaveSecret writes one credential immediately. Secrets bypass the
// coalescing path so install codes and link keys hit disk before the
// pairing exchange continues.
func (s *Store) SaveSecret(sec *Secret) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return s.saveSecret(db, sec)
}

// DeleteSecret drops the stored credential for a uniqueid.
func (s *Store) DeleteSecret(uniqueid string) error {
	return s.exec(`DELETE FROM secrets WHERE uniqueid = ?`, uniqueid)
}

// LoadSecrets hydrates the secrets table into the cache.
func (s *Store) LoadSecrets(cache *Cache) error {
	return s.queryRows(`SELECT uniqueid, COALESCE(secret, ''), state FROM secrets`, func(rows *sql.Rows) error {
		var (
			uniqueid string
			secret   string
			state    int
		)
		if err := rows.Scan(&uniqueid, &secret, &state); err != nil {
			return err
		}
		cache.mu.Lock()
		if _, exists := cache.secrets[uniqueid]; !exists {
			cache.secrets[uniqueid] = &Secret{UniqueID: uniqueid, Secret: secret, State: state}
		}
		cache.mu.Unlock()
		return nil
	})
}
