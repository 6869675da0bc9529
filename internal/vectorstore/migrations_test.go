package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(filepath.Join(t.TempDir(), DatabaseFile))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db))

	v, err := schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(filepath.Join(t.TempDir(), DatabaseFile))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, RollbackMigration(ctx, db))

	v, err := schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, db))
	v, err = schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}
