package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/triagoor/pkg/config"
)

// PatternRow is the database row for one fingerprint's history.
type PatternRow struct {
	ID           uint   `gorm:"primaryKey"`
	Fingerprint  string `gorm:"not null;uniqueIndex"`
	FirstFailure time.Time
	LastFailure  time.Time
	Count        int

	// Browser set serialized as JSON.
	BrowsersJSON string `gorm:"type:text"`
}

// dbStore persists pattern entries in a relational database. Record
// holds a row lock for the duration of its transaction, so concurrent
// workers cannot lose each other's increments the way the file
// backend can.
type dbStore struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// Compile-time interface check.
var _ Store = (*dbStore)(nil)

// NewDBStore creates a database-backed pattern store.
func NewDBStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &dbStore{
		log: log.WithField("component", "patterns-db"),
		cfg: cfg,
	}
}

// Load opens the database connection and runs migrations.
func (s *dbStore) Load(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening pattern database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&PatternRow{}); err != nil {
		return fmt.Errorf("running pattern migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Pattern database connected")

	return nil
}

// Record registers one occurrence. The update path locks the row for
// the duration of its transaction, and a create that loses the race
// on the fingerprint unique index falls back to incrementing the row
// the other worker inserted.
func (s *dbStore) Record(
	ctx context.Context, fingerprint, browser string, now time.Time,
) (*Occurrence, error) {
	for {
		occ, err := s.increment(ctx, fingerprint, browser, now)
		if err != nil {
			return nil, fmt.Errorf("recording occurrence: %w", err)
		}

		if occ != nil {
			return occ, nil
		}

		occ, err = s.create(ctx, fingerprint, browser, now)
		if err == nil {
			return occ, nil
		}

		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("recording occurrence: %w", err)
		}
	}
}

// increment bumps the existing row for a fingerprint under a row
// lock. It returns a nil occurrence when no row exists yet.
func (s *dbStore) increment(
	ctx context.Context, fingerprint, browser string, now time.Time,
) (*Occurrence, error) {
	var occ *Occurrence

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PatternRow

		err := s.lockForUpdate(tx).
			Where("fingerprint = ?", fingerprint).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("querying pattern row: %w", err)
		}

		browsers := unionBrowser(unmarshalBrowsers(row.BrowsersJSON), browser)

		row.Count++
		row.LastFailure = now
		row.BrowsersJSON = mustMarshalBrowsers(browsers)

		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("updating pattern row: %w", err)
		}

		occ = &Occurrence{Count: row.Count, Browsers: browsers}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return occ, nil
}

// create inserts the first row for a fingerprint. The error is left
// unwrapped so callers can detect gorm.ErrDuplicatedKey.
func (s *dbStore) create(
	ctx context.Context, fingerprint, browser string, now time.Time,
) (*Occurrence, error) {
	row := PatternRow{
		Fingerprint:  fingerprint,
		FirstFailure: now,
		LastFailure:  now,
		Count:        1,
		BrowsersJSON: mustMarshalBrowsers([]string{browser}),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}

	return &Occurrence{
		IsFirstOccurrence: true,
		Count:             1,
		Browsers:          []string{browser},
	}, nil
}

// lockForUpdate takes a row lock on drivers that support it. SQLite
// rejects FOR UPDATE syntax and serializes writers on its own.
func (s *dbStore) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if s.cfg.Driver == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	return tx
}

// Save is a no-op: the db backend persists on every Record.
func (s *dbStore) Save(_ context.Context) error {
	return nil
}

// Get returns the entry for a fingerprint, or nil when absent.
func (s *dbStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	var row PatternRow

	err := s.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying pattern row: %w", err)
	}

	return rowToEntry(&row), nil
}

// All returns every entry keyed by fingerprint.
func (s *dbStore) All(ctx context.Context) (map[string]*Entry, error) {
	var rows []PatternRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing pattern rows: %w", err)
	}

	out := make(map[string]*Entry, len(rows))
	for i := range rows {
		out[rows[i].Fingerprint] = rowToEntry(&rows[i])
	}

	return out, nil
}

// Close closes the underlying database connection.
func (s *dbStore) Close() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func rowToEntry(row *PatternRow) *Entry {
	return &Entry{
		FirstFailure: row.FirstFailure,
		LastFailure:  row.LastFailure,
		Count:        row.Count,
		Browsers:     unmarshalBrowsers(row.BrowsersJSON),
	}
}

func mustMarshalBrowsers(browsers []string) string {
	data, err := json.Marshal(browsers)
	if err != nil {
		// A []string cannot fail to marshal.
		return "[]"
	}

	return string(data)
}

func unmarshalBrowsers(raw string) []string {
	if raw == "" {
		return nil
	}

	var browsers []string
	if err := json.Unmarshal([]byte(raw), &browsers); err != nil {
		return nil
	}

	return browsers
}
