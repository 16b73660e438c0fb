package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"zigbridge/internal/observability"
)

// Config holds configuration values for the store handle.
type Config struct {
	Path string
	// IdleTTL is the number of idle ticks after which the connection is
	// closed. Re-open is lazy on the next operation.
	IdleTTL int
	// ZCLValueMaxAge bounds the zcl_values time series in seconds.
	// Zero or negative disables history collection.
	ZCLValueMaxAge int64
	// ConstrainedPlatform widens the default resource-item store delay
	// to protect flash-backed hosts from write churn.
	ConstrainedPlatform bool
}

// UpdateHook observes row-level changes in debug builds. op is one of
// "insert", "update", "delete". rowid is set for inserts and zero
// otherwise.
type UpdateHook func(op, table string, rowid int64)

// Store owns the single connection to the embedded relational store.
// There is exactly one writer in the process; all mutation flows
// through the write scheduler, which serializes on this handle.
type Store struct {
	cfg Config

	mu   sync.Mutex
	db   *sql.DB
	ttl  int
	hook UpdateHook

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the store.
type Option func(*Store)

// WithLogger injects a structured logger into the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithUpdateHook installs a row-level observer. Intended for debug
// builds; the hook sees rows-affected style notifications, not every
// physical row.
func WithUpdateHook(hook UpdateHook) Option {
	return func(s *Store) {
		s.hook = hook
	}
}

// New constructs a store handle without opening the database file.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: database path must be provided")
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 60
	}

	s := &Store{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Open establishes the connection and applies session pragmas.
// Opening is idempotent: reopening while a connection exists only
// resets the idle TTL.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Store) openLocked() error {
	s.ttl = s.cfg.IdleTTL
	if s.db != nil {
		return nil
	}

	abs, err := filepath.Abs(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("storage: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}

	db, err := sql.Open("sqlite", connectionString(abs))
	if err != nil {
		return fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One pinned connection carries the session: temp views live on it,
	// and a COMMIT that fails mid-transaction can be rolled back on it.
	db.SetMaxOpenConns(1)

	s.db = db
	s.metrics.IncStoreOpens()
	s.restoreSessionState(db)
	s.logger.Debug("store opened", slog.String("path", abs))
	return nil
}

// restoreSessionState recreates connection-scoped objects after a lazy
// reopen. Temp views vanish with the connection the idle TTL closed;
// they only make sense once the schema chain has fully run.
func (s *Store) restoreSessionState(db *sql.DB) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		s.logger.Warn("session restore: read user_version failed", slog.Any("error", err))
		return
	}
	if version >= latestSchemaVersion {
		s.createTempViewsOn(db)
	}
}

// conn returns the open database handle, lazily reopening when the
// idle TTL closed it earlier. Every access refreshes the TTL.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		s.logger.Error("store open failed, operation skipped", slog.Any("error", err))
		return nil, err
	}
	return s.db, nil
}

// TickIdle decrements the idle TTL and closes the connection once it
// elapses. A close attempt while the store is busy is retried on the
// next tick.
func (s *Store) TickIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	if s.ttl > 0 {
		s.ttl--
		return
	}
	if err := s.db.Close(); err != nil {
		if isBusy(err) {
			s.logger.Debug("store busy on close, retrying later")
			return
		}
		s.logger.Warn("store close failed", slog.Any("error", err))
	}
	s.db = nil
	s.logger.Debug("store closed after idle ttl")
}

// Close tears the connection down immediately, running final
// maintenance first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.runFinalMaintenance()
	err := s.db.Close()
	s.db = nil
	return err
}

// UserVersion reads the schema version scalar. Absent or zero means
// legacy.
func (s *Store) UserVersion() (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read user_version: %w", err)
	}
	return version, nil
}

func (s *Store) setUserVersion(version int) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("storage: write user_version: %w", err)
	}
	s.metrics.SetSchemaVersion(version)
	return nil
}

// ZCLValueMaxAge returns the time-series bound in seconds. Zero or
// negative disables history collection.
func (s *Store) ZCLValueMaxAge() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ZCLValueMaxAge
}

// SetZCLValueMaxAge updates the time-series bound, typically after the
// zclvaluemaxage config scalar hydrates.
func (s *Store) SetZCLValueMaxAge(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ZCLValueMaxAge = seconds
}

// Maintenance runs a WAL checkpoint and optimize pass.
func (s *Store) Maintenance() error {
	db, err := s.conn()
	if err != nil {
		return nil
	}
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("storage: wal_checkpoint: %w", err)
	}
	if _, err := db.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("storage: optimize: %w", err)
	}
	return nil
}

func (s *Store) runFinalMaintenance() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("final maintenance checkpoint failed", slog.Any("error", err))
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		s.logger.Warn("final maintenance vacuum failed", slog.Any("error", err))
	}
	if _, err := s.db.Exec("ANALYZE"); err != nil {
		s.logger.Warn("final maintenance analyze failed", slog.Any("error", err))
	}
}

func (s *Store) notifyHook(op, table string, rowid int64) {
	if s.hook == nil {
		return
	}
	s.hook(op, table, rowid)
}

// connectionString carries the session pragmas in the DSN so a lazy
// reopen after the idle TTL restores them. Foreign key enforcement is
// a session flag; cascades between devices, sub_devices and
// resource_items depend on it.
func connectionString(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(30000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=temp_store(MEMORY)"
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy")
}
