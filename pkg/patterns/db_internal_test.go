package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ethpandaops/triagoor/pkg/config"
)

func setupInternalDBStore(t *testing.T) *dbStore {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	s := NewDBStore(log, cfg).(*dbStore)
	require.NoError(t, s.Load(context.Background()))

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestDBStore_CreateConflictFallsBackToIncrement(t *testing.T) {
	s := setupInternalDBStore(t)
	ctx := context.Background()
	now := time.Now()

	// First insert wins the fingerprint.
	occ, err := s.create(ctx, "fp-race", "chromium", now)
	require.NoError(t, err)
	assert.Equal(t, 1, occ.Count)

	// A second insert, as issued by a worker that read before the
	// first one committed, must surface the translated duplicate-key
	// error Record relies on.
	_, err = s.create(ctx, "fp-race", "firefox", now)
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Record on the losing worker ends up incrementing the winner's
	// row instead of dropping the occurrence.
	occ, err = s.Record(ctx, "fp-race", "firefox", now)
	require.NoError(t, err)
	assert.False(t, occ.IsFirstOccurrence)
	assert.Equal(t, 2, occ.Count)
	assert.ElementsMatch(t, []string{"chromium", "firefox"}, occ.Browsers)
}

func TestDBStore_LockForUpdateByDriver(t *testing.T) {
	s := setupInternalDBStore(t)

	tx := s.lockForUpdate(s.db.Session(&gorm.Session{}))
	_, locked := tx.Statement.Clauses["FOR"]
	assert.False(t, locked, "sqlite must not emit FOR UPDATE")

	s.cfg.Driver = "postgres"

	tx = s.lockForUpdate(s.db.Session(&gorm.Session{}))
	_, locked = tx.Statement.Clauses["FOR"]
	assert.True(t, locked, "postgres reads must lock the row")
}
