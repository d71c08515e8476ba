package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")

	conn, err := OpenSQLite(path)
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"users", "slots", "appointments", "polls", "poll_votes", "event_logs"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")

	for i := 0; i < 3; i++ {
		conn, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, conn.Close())
	}
}

func TestOpenSQLite_ForeignKeysEnabled(t *testing.T) {
	conn, err := OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer conn.Close()

	var enabled int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestOpenSQLite_PragmasSurviveReconnect(t *testing.T) {
	conn, err := OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	defer conn.Close()

	// Dropping the idle connection forces the next query onto a fresh one.
	conn.SetMaxIdleConns(0)
	conn.SetMaxIdleConns(1)

	var foreignKeys, busyTimeout int
	var journal string
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
	require.NoError(t, conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busyTimeout))
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&journal))
	assert.Equal(t, 1, foreignKeys)
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, "wal", journal)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "bot.db?"+sqliteParams, sqliteDSN("bot.db"))
	assert.Equal(t, "file:bot.db?cache=shared&"+sqliteParams, sqliteDSN("file:bot.db?cache=shared"))
}
