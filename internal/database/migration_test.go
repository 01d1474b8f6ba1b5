package database

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

func TestMigrationManagerFactory(t *testing.T) {
	factory := NewMigrationManagerFactory("./migrations", zap.NewNop())
	assert.NotNil(t, factory)
	assert.Contains(t, factory.GetMigrationPath(), "migrations")
}

func TestMigrationManager(t *testing.T) {
	// 需要真实数据库，CI以外默认跳过
	if os.Getenv("TEST_DB_URL") == "" {
		t.Skip("Skipping migration test: TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", os.Getenv("TEST_DB_URL"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())

	mm, err := NewMigrationManager(db, "./migrations", zap.NewNop())
	require.NoError(t, err)
	defer mm.Close()

	assert.NoError(t, mm.Up())
}
