package repository_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maynagashev/beatmaps-cdn/internal/repository"
)

func TestMigrationSource_Versions(t *testing.T) {
	src, err := repository.MigrationSource()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	var versions []uint
	version, err := src.First()
	for err == nil {
		versions = append(versions, version)
		version, err = src.Next(version)
	}
	require.ErrorIs(t, err, fs.ErrNotExist)

	assert.Equal(t, []uint{1, 2}, versions)
}

func TestMigrationSource_Contents(t *testing.T) {
	tests := []struct {
		name     string
		version  uint
		contains []string
	}{
		{
			name:     "tables",
			version:  1,
			contains: []string{"CREATE TABLE IF NOT EXISTS map", "CREATE TABLE IF NOT EXISTS version", `REFERENCES map ("mapId")`},
		},
		{
			name:     "one published version per map",
			version:  2,
			contains: []string{"CREATE UNIQUE INDEX", "WHERE published"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := repository.MigrationSource()
			require.NoError(t, err)
			t.Cleanup(func() { _ = src.Close() })

			up, _, err := src.ReadUp(tt.version)
			require.NoError(t, err)
			body, err := io.ReadAll(up)
			require.NoError(t, err)
			require.NoError(t, up.Close())

			for _, s := range tt.contains {
				assert.Contains(t, string(body), s)
			}

			down, _, err := src.ReadDown(tt.version)
			require.NoError(t, err)
			assert.NoError(t, down.Close())
		})
	}
}

func TestMigrate_DatabaseUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = repository.Migrate(context.Background(), sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration driver")
	assert.NoError(t, mock.ExpectationsWereMet())
}
