package storage

import (
	"database/sql"
	"errors"
	"log/slog"
)

// StoreZBConf appends a Zigbee stack configuration snapshot. The table
// is append-only; a new row is written only when the payload differs
// from the most recent one.
func (s *Store) StoreZBConf(conf string) error {
	if conf == "" {
		return errors.New("storage: empty zbconf payload")
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	var latest string
	err = db.QueryRow(`SELECT conf FROM zbconf ORDER BY rowid DESC LIMIT 1`).Scan(&latest)
	if err == nil && latest == conf {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := db.Exec(`INSERT INTO zbconf (conf) VALUES (?)`, conf); err != nil {
		s.logger.Error("zbconf snapshot write failed", slog.Any("error", err))
		return err
	}
	s.notifyHook("insert", "zbconf", 0)
	return nil
}

// LoadZBConf returns the most recent stack configuration snapshot, or
// the empty string when none was stored yet.
func (s *Store) LoadZBConf() (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	var conf string
	err = db.QueryRow(`SELECT conf FROM zbconf ORDER BY rowid DESC LIMIT 1`).Scan(&conf)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return conf, err
}
