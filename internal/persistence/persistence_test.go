package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gearlog/ticket-service/internal/config"
)

func TestMigrationFiles_SortedSQLOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o700))

	files, err := migrationFiles(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestMigrationFiles_MissingDir(t *testing.T) {
	_, err := migrationFiles(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "read migrations")
}

func TestRunMigrations_NoPoolIsSkipped(t *testing.T) {
	assert.NoError(t, RunMigrations(context.Background(), nil, "", zap.NewNop()))
}

func TestRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	defer r.Close()

	assert.NoError(t, r.Ping(context.Background()))
	var unset *Redis
	assert.Error(t, unset.Ping(context.Background()))
}

func TestNewRedis_UnreachableServerIsNotFatal(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	core, logs := observer.New(zap.WarnLevel)

	r := NewRedis(context.Background(), config.RedisConfig{Addr: addr}, zap.New(core))
	defer r.Close()

	require.NotNil(t, r.Client)
	assert.Equal(t, 1, logs.FilterMessage("unable to reach redis").Len())
	assert.Error(t, r.Ping(context.Background()))

	var unset *Redis
	assert.NotPanics(t, unset.Close)
}

func TestUnconfiguredDependencies(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, pg.Ping(context.Background()))

	n, err := NewNATS(config.NATSConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	assert.Error(t, n.Ping(context.Background()))
	n.Close()
}
