package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo-tracker/internal/domain"
	"halo-tracker/internal/metadata"
)

const testXUID = "2533274810653829"

func openTestStore(t *testing.T) *metadata.Store {
	t.Helper()
	store, err := metadata.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedBlob inserts one legacy match document. Ten matches across two months
// with a playlist split is the canonical fixture shape.
func seedBlob(t *testing.T, store *metadata.Store, doc map[string]any) {
	t.Helper()
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = store.DB().Exec(
		`INSERT INTO matches (match_id, xuid, start_time, payload) VALUES (?, ?, ?, ?)`,
		doc["match_id"], testXUID, doc["start_time"], string(payload))
	require.NoError(t, err)
}

func seedTenMatches(t *testing.T, store *metadata.Store) {
	t.Helper()
	for i := 0; i < 10; i++ {
		// every 36 hours from late March into April; the last four are ranked
		start := time.Date(2024, 3, 25, 20, 0, 0, 0, time.UTC).Add(time.Duration(i) * 36 * time.Hour)
		playlist := "social-slayer"
		if i >= 6 {
			playlist = "ranked-arena"
		}
		outcome := 2
		if i%3 == 0 {
			outcome = 3
		}
		seedBlob(t, store, map[string]any{
			"match_id":          fmt.Sprintf("m-%03d", i),
			"xuid":              testXUID,
			"start_time":        start.Format(time.RFC3339),
			"playlist_asset_id": playlist,
			"outcome":           outcome,
			"kills":             10 + i,
			"deaths":            8,
			"kda":               1.0 + float64(i)*0.1,
		})
	}
}

func TestLegacyLoadMatchesFromBlobs(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	seedTenMatches(t, store)

	all, err := repo.LoadMatches(ctx, domain.MatchFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 10)

	ranked, err := repo.LoadMatches(ctx, domain.MatchFilters{PlaylistAssetID: "ranked-arena"})
	require.NoError(t, err)
	assert.Len(t, ranked, 4)
	for _, f := range ranked {
		assert.Equal(t, "ranked-arena", f.PlaylistAssetID)
	}

	limited, err := repo.LoadMatches(ctx, domain.MatchFilters{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	count, err := repo.GetMatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestLegacyLoadMatchesRange(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	seedTenMatches(t, store)

	// April only
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC)
	april, err := repo.LoadMatchesInRange(ctx, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, april)
	for _, f := range april {
		assert.Equal(t, int32(4), f.Month)
	}
}

func TestLegacyCachePreferred(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	// cache row exists but the blob store is empty; reads must still work
	_, err := store.DB().Exec(`
		INSERT INTO match_cache (match_id, xuid, start_time, playlist_asset_id, outcome, kills, deaths, kda)
		VALUES ('m-cache', ?, ?, 'ranked-arena', 2, 21, 9, 2.33)`,
		testXUID, time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	facts, err := repo.LoadMatches(ctx, domain.MatchFilters{})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "m-cache", facts[0].MatchID)
	assert.Equal(t, domain.OutcomeWin, facts[0].Outcome)
	assert.Equal(t, int32(21), facts[0].Kills)
	require.NotNil(t, facts[0].KDA)
	assert.InDelta(t, 2.33, *facts[0].KDA, 1e-9)
	assert.Equal(t, int32(2024), facts[0].Year)
	assert.Equal(t, int32(3), facts[0].Month)
}

func TestLegacyMedals(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.UpsertMedalDefinition(ctx, domain.MedalDefinition{NameID: 100, NameEn: "Double Kill"}))
	for _, row := range []struct {
		matchID string
		nameID  int64
		count   int32
	}{
		{"m-001", 100, 2},
		{"m-001", 200, 1},
		{"m-002", 100, 3},
	} {
		_, err := store.DB().Exec(
			`INSERT INTO match_medals (match_id, xuid, medal_name_id, count) VALUES (?, ?, ?, ?)`,
			row.matchID, testXUID, row.nameID, row.count)
		require.NoError(t, err)
	}

	top, err := repo.LoadTopMedals(ctx, []string{"m-001", "m-002"}, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(100), top[0].MedalNameID)
	assert.Equal(t, "Double Kill", top[0].NameEn)
	assert.Equal(t, 5, top[0].TotalCount)

	perMatch, err := repo.LoadMatchMedals(ctx, "m-001")
	require.NoError(t, err)
	assert.Len(t, perMatch, 2)

	none, err := repo.LoadTopMedals(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLegacyTeammates(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	roster := func(id string, outcome int, mates ...string) map[string]any {
		players := []map[string]any{{"xuid": testXUID, "team_id": 0, "outcome": outcome}}
		for _, m := range mates {
			players = append(players, map[string]any{"xuid": m, "gamertag": "GT-" + m, "team_id": 0, "outcome": outcome})
		}
		// one opponent, must never count
		players = append(players, map[string]any{"xuid": "666", "team_id": 1, "outcome": 5 - outcome})
		return map[string]any{
			"match_id":   id,
			"xuid":       testXUID,
			"start_time": "2024-03-15T22:30:00Z",
			"outcome":    outcome,
			"team_id":    0,
			"players":    players,
		}
	}

	seedBlob(t, store, roster("m-001", 2, "111", "222"))
	seedBlob(t, store, roster("m-002", 3, "111"))
	seedBlob(t, store, roster("m-003", 2, "111", "333"))

	mates, err := repo.ListTopTeammates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mates, 3)

	assert.Equal(t, "111", mates[0].XUID)
	assert.Equal(t, "GT-111", mates[0].Gamertag)
	assert.Equal(t, 3, mates[0].MatchesTogether)
	assert.Equal(t, 2, mates[0].WinsTogether)

	// opponent from team 1 is excluded
	for _, m := range mates {
		assert.NotEqual(t, "666", m.XUID)
	}

	top1, err := repo.ListTopTeammates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top1, 1)
	assert.Equal(t, "111", top1[0].XUID)
}

func TestLegacyIsNeverHybrid(t *testing.T) {
	store := openTestStore(t)
	repo := NewLegacyRepository(testXUID, store, zerolog.Nop())

	assert.False(t, repo.IsHybridAvailable(context.Background()))

	info, err := repo.GetStorageInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy", info.Backend)
}
