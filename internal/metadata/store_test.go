package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo-tracker/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// reopening runs the same migrations against an already provisioned file
	store, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestUpsertPlayerCoalesces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPlayer(ctx, domain.PlayerProfile{
		XUID:       "42",
		Gamertag:   "Spartan117",
		ServiceTag: "S117",
		CareerRank: 50,
	}))

	// a later sparse update must not erase what we already know
	require.NoError(t, store.UpsertPlayer(ctx, domain.PlayerProfile{
		XUID:       "42",
		EmblemPath: "emblems/helmet.png",
	}))

	p, err := store.GetPlayer(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Spartan117", p.Gamertag)
	assert.Equal(t, "S117", p.ServiceTag)
	assert.Equal(t, 50, p.CareerRank)
	assert.Equal(t, "emblems/helmet.png", p.EmblemPath)
}

func TestGetGamertags(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPlayer(ctx, domain.PlayerProfile{XUID: "1", Gamertag: "Alpha"}))
	require.NoError(t, store.UpsertPlayer(ctx, domain.PlayerProfile{XUID: "2", Gamertag: "Bravo"}))
	require.NoError(t, store.UpsertPlayer(ctx, domain.PlayerProfile{XUID: "3"})) // no gamertag yet

	tags, err := store.GetGamertags(ctx, []string{"1", "2", "3", "999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "Alpha", "2": "Bravo"}, tags)

	empty, err := store.GetGamertags(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSyncMetadataPartialUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// never-synced player reads back as idle
	m, err := store.GetSyncMetadata(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusIdle, m.Status)

	require.NoError(t, store.UpdateSyncMetadata(ctx, "42", map[string]any{
		"status":        domain.SyncStatusMigrating,
		"total_matches": 120,
	}))

	// updating one field leaves the others untouched
	require.NoError(t, store.UpdateSyncMetadata(ctx, "42", map[string]any{
		"total_columnar_rows": 120,
		"status":              domain.SyncStatusMigrated,
	}))

	m, err = store.GetSyncMetadata(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusMigrated, m.Status)
	assert.Equal(t, 120, m.TotalMatches)
	assert.Equal(t, 120, m.TotalColumnarRows)

	// unknown columns are rejected before SQL is built
	err = store.UpdateSyncMetadata(ctx, "42", map[string]any{"status; DROP TABLE sync_meta": "x"})
	assert.Error(t, err)
}

func TestMigrationMeta(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	v, err := store.GetMigrationMeta(ctx, "last_run_id")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.SetMigrationMeta(ctx, "last_run_id", "abc123"))
	require.NoError(t, store.SetMigrationMeta(ctx, "last_run_id", "def456"))

	v, err = store.GetMigrationMeta(ctx, "last_run_id")
	require.NoError(t, err)
	assert.Equal(t, "def456", v)
}

func TestUpsertSessionGeneratesID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertSession(ctx, domain.Session{
		XUID:       "42",
		StartTime:  time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC),
		MatchCount: 8,
		Wins:       5,
		Losses:     3,
		AvgKDA:     1.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// supplying the id updates in place
	_, err = store.UpsertSession(ctx, domain.Session{
		SessionID:  id,
		XUID:       "42",
		StartTime:  time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC),
		MatchCount: 9,
	})
	require.NoError(t, err)
}

func TestMedalDefinitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMedalDefinition(ctx, domain.MedalDefinition{
		NameID: 622331684,
		NameEn: "Perfect",
		NameFr: "Parfait",
	}))

	defs, err := store.GetMedalDefinitions(ctx, []int64{622331684, 999})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Perfect", defs[622331684].NameEn)
}
