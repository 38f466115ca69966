package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeproof/internal/db"
	"stakeproof/internal/events"
	"stakeproof/internal/migrate"
)

func exercise(t *testing.T, log events.Log) {
	t.Helper()
	ctx := context.Background()
	latest, err := log.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	require.NoError(t, log.Append(ctx, "mission.created", "mission", "m-1", "alice", events.EventPayload{"stake": 100}))
	require.NoError(t, log.Append(ctx, "evidence.submitted", "evidence", "ev-1", "alice", nil))
	require.NoError(t, log.Append(ctx, "vote.cast", "evidence", "ev-1", "bob", events.EventPayload{"choice": "approve"}))

	all, err := log.After(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "mission.created", all[0].Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(all[0].Payload), &payload))
	assert.Equal(t, float64(100), payload["stake"])
	assert.Equal(t, "{}", all[1].Payload)

	tail, err := log.After(ctx, all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "evidence.submitted", tail[0].Type)

	latest, err = log.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[2].ID, latest)

	none, err := log.After(ctx, latest, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryLog(t *testing.T) {
	exercise(t, &events.Memory{})
}

func TestSQLiteLog(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	exercise(t, events.Writer{DB: conn})
}
