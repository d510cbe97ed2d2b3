package migrations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/restorr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migrations.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)

	seen := make(map[string]bool)
	for i, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		seen[m.Version] = true
		assert.NotEmpty(t, m.Description)
		assert.NotNil(t, m.Up)
		assert.NotNil(t, m.Down)
		if i > 0 {
			assert.Less(t, migrations[i-1].Version, m.Version)
		}
	}
}

func TestMigrator_UpCreatesHistoryTable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, AllMigrations()...)
	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable(&models.ProcessingJob{}))
	assert.True(t, db.Migrator().HasTable(&MigrationRecord{}))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_UpIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, AllMigrations()...)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_SortsByVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var order []string
	step := func(v string) Migration {
		return Migration{
			Version:     v,
			Description: "step " + v,
			Up: func(*gorm.DB) error {
				order = append(order, v)
				return nil
			},
		}
	}

	m := NewMigrator(db, nil, step("003"), step("001"), step("002"))
	require.NoError(t, m.Up(ctx))
	assert.Equal(t, []string{"001", "002", "003"}, order)
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, Migration{
		Version:     "001",
		Description: "broken",
		Up:          func(*gorm.DB) error { return errors.New("boom") },
	})

	err := m.Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applying migration 001")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Applied)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, AllMigrations()...)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, m.Up(ctx))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, AllMigrations()...)
	require.NoError(t, m.Down(ctx), "rollback with nothing applied is a no-op")

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))

	assert.False(t, db.Migrator().HasTable(&models.ProcessingJob{}))
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMigrator_DownWithoutRollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil, Migration{Version: "001", Description: "one way", Up: func(*gorm.DB) error { return nil }})
	require.NoError(t, m.Up(ctx))

	err := m.Down(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support rollback")
}

func TestMigrations_CanInsertJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(db, nil, AllMigrations()...).Up(ctx))

	job := &models.ProcessingJob{
		SessionID:  "10.0.0.1_1700000000",
		OutputStem: "voice_1",
		Status:     models.JobStatusCompleted,
		Chain:      "dynaudnorm=f=200",
	}
	job.SetExitCode(0)
	require.NoError(t, db.Create(job).Error)

	var got models.ProcessingJob
	require.NoError(t, db.First(&got, "id = ?", job.ID).Error)
	assert.Equal(t, job.Chain, got.Chain)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
}
