package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo-tracker/internal/analytics"
	"halo-tracker/internal/config"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/warehouse"
)

func testConfig(t *testing.T, store *metadata.Store, mode string) *config.Config {
	t.Helper()
	return &config.Config{
		SourceDBPath:  store.Path(),
		WarehousePath: t.TempDir(),
		PlayerXUID:    testXUID,
		StorageMode:   mode,
		ShadowMode:    "read",
		DuckDBMemory:  "256MB",
		DuckDBThreads: 1,
	}
}

func newShadow(t *testing.T, store *metadata.Store, mode ShadowMode) *ShadowRepository {
	t.Helper()
	root := t.TempDir()
	reader := warehouse.NewReader(root, zerolog.Nop())
	engine := analytics.NewEngine(store.Path(), "256MB", 1, zerolog.Nop())
	columnar := NewColumnarRepository(testXUID, reader, engine, store, zerolog.Nop())
	legacy := NewLegacyRepository(testXUID, store, zerolog.Nop())
	repo := NewShadowRepository(legacy, columnar, mode, zerolog.Nop())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestParseShadowMode(t *testing.T) {
	for in, want := range map[string]ShadowMode{
		"":             ShadowRead,
		"read":         ShadowRead,
		"compare":      ShadowCompare,
		"hybrid-first": HybridFirst,
		"hybrid_first": HybridFirst,
	} {
		got, err := ParseShadowMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := ParseShadowMode("yolo")
	assert.Error(t, err)
}

func TestShadowReadServesLegacy(t *testing.T) {
	store := openTestStore(t)
	seedTenMatches(t, store)
	repo := newShadow(t, store, ShadowRead)
	ctx := context.Background()

	facts, err := repo.LoadMatches(ctx, domain.MatchFilters{})
	require.NoError(t, err)
	assert.Len(t, facts, 10)

	count, err := repo.GetMatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	assert.Zero(t, repo.Divergences())
}

// With an empty warehouse, hybrid-first must behave exactly like the legacy
// repository on every read.
func TestShadowHybridFirstFallsBackToLegacy(t *testing.T) {
	store := openTestStore(t)
	seedTenMatches(t, store)
	shadow := newShadow(t, store, HybridFirst)
	legacy := NewLegacyRepository(testXUID, store, zerolog.Nop())
	ctx := context.Background()

	assert.False(t, shadow.IsHybridAvailable(ctx))

	fromShadow, err := shadow.LoadMatches(ctx, domain.MatchFilters{PlaylistAssetID: "ranked-arena"})
	require.NoError(t, err)
	fromLegacy, err := legacy.LoadMatches(ctx, domain.MatchFilters{PlaylistAssetID: "ranked-arena"})
	require.NoError(t, err)
	assert.Equal(t, fromLegacy, fromShadow)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	rangeShadow, err := shadow.LoadMatchesInRange(ctx, start, end)
	require.NoError(t, err)
	rangeLegacy, err := legacy.LoadMatchesInRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, rangeLegacy, rangeShadow)

	countShadow, err := shadow.GetMatchCount(ctx)
	require.NoError(t, err)
	countLegacy, err := legacy.GetMatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, countLegacy, countShadow)
}

// Compare mode runs on concurrent request goroutines, so the divergence
// counter must tolerate parallel reads.
func TestShadowCompareConcurrentReads(t *testing.T) {
	store := openTestStore(t)
	seedTenMatches(t, store)
	repo := newShadow(t, store, ShadowCompare)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := repo.GetMatchCount(ctx)
			assert.NoError(t, err)
			assert.Equal(t, int64(10), count)
		}()
	}
	wg.Wait()

	// the empty warehouse disagrees with legacy on every read
	assert.Equal(t, int64(8), repo.Divergences())
}

func TestShadowCompareMirrorsMedalsAndTeammates(t *testing.T) {
	store := openTestStore(t)
	repo := newShadow(t, store, ShadowCompare)
	ctx := context.Background()

	_, err := store.DB().Exec(
		`INSERT INTO match_medals (match_id, xuid, medal_name_id, count) VALUES (?, ?, ?, ?)`,
		"m-001", testXUID, 100, 2)
	require.NoError(t, err)
	seedBlob(t, store, map[string]any{
		"match_id":   "m-001",
		"xuid":       testXUID,
		"start_time": "2024-03-15T22:30:00Z",
		"outcome":    2,
		"team_id":    0,
		"players": []map[string]any{
			{"xuid": testXUID, "team_id": 0, "outcome": 2},
			{"xuid": "111", "gamertag": "GT-111", "team_id": 0, "outcome": 2},
		},
	})

	// every read still serves the legacy result, but each mirrored read
	// sees the empty warehouse disagree
	top, err := repo.LoadTopMedals(ctx, []string{"m-001"}, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(1), repo.Divergences())

	perMatch, err := repo.LoadMatchMedals(ctx, "m-001")
	require.NoError(t, err)
	require.Len(t, perMatch, 1)
	assert.Equal(t, int64(2), repo.Divergences())

	mates, err := repo.ListTopTeammates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, mates, 1)
	assert.Equal(t, int64(3), repo.Divergences())
}

func TestShadowStorageInfoReportsShadow(t *testing.T) {
	store := openTestStore(t)
	repo := newShadow(t, store, ShadowCompare)

	info, err := repo.GetStorageInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shadow", info.Backend)
	assert.Equal(t, "compare", info.Mode)
	assert.Zero(t, info.PartitionFileCount)
}

func TestOpenSelectsBackend(t *testing.T) {
	store := openTestStore(t)

	cfg := testConfig(t, store, "legacy")
	repo, err := Open(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	_, ok := repo.(*LegacyRepository)
	assert.True(t, ok)
	repo.Close()

	cfg = testConfig(t, store, "hybrid")
	repo, err = Open(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	_, ok = repo.(*ColumnarRepository)
	assert.True(t, ok)
	repo.Close()

	cfg = testConfig(t, store, "shadow")
	repo, err = Open(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	_, ok = repo.(*ShadowRepository)
	assert.True(t, ok)
	repo.Close()

	cfg = testConfig(t, store, "bogus")
	_, err = Open(cfg, store, zerolog.Nop())
	assert.Error(t, err)
}
