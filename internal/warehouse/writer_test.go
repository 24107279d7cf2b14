package warehouse

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo-tracker/internal/domain"
)

const testXUID = "2533274810653829"

func testFact(id string, start time.Time) domain.MatchFact {
	kda := 2.5
	return domain.MatchFact{
		MatchID:         id,
		XUID:            testXUID,
		StartTime:       start.UTC(),
		Year:            int32(start.UTC().Year()),
		Month:           int32(start.UTC().Month()),
		PlaylistAssetID: "ranked-arena",
		Outcome:         domain.OutcomeWin,
		Kills:           15,
		Deaths:          8,
		Assists:         3,
		KDA:             &kda,
	}
}

func makeFacts(n int, start time.Time, step time.Duration) []domain.MatchFact {
	facts := make([]domain.MatchFact, n)
	for i := range facts {
		facts[i] = testFact(fmt.Sprintf("m-%03d", i), start.Add(time.Duration(i)*step))
	}
	return facts
}

func TestWriteFactsPartitionLayout(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())

	// 10 matches spanning March and April land in exactly two partition
	// files.
	facts := makeFacts(10, time.Date(2024, 3, 28, 12, 0, 0, 0, time.UTC), 24*time.Hour)
	n, err := w.WriteFacts(context.Background(), facts)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	keys, err := ListPartitions(root, TableMatchFacts, testXUID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, PartitionKey{XUID: testXUID, Year: 2024, Month: 3}, keys[0])
	assert.Equal(t, PartitionKey{XUID: testXUID, Year: 2024, Month: 4}, keys[1])

	for _, key := range keys {
		_, err := os.Stat(PartitionFile(root, TableMatchFacts, key))
		assert.NoError(t, err)
	}
}

func TestWriteFactsIdempotent(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	facts := makeFacts(10, time.Date(2024, 3, 28, 12, 0, 0, 0, time.UTC), 24*time.Hour)

	n, err := w.WriteFacts(context.Background(), facts)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// The same batch again adds nothing.
	n, err = w.WriteFacts(context.Background(), facts)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	total, err := r.CountRows(testXUID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestWriteFactsIncomingWins(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	f := testFact("m-001", time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC))
	_, err := w.WriteFacts(ctx, []domain.MatchFact{f})
	require.NoError(t, err)

	f.Kills = 30
	n, err := w.WriteFacts(ctx, []domain.MatchFact{f})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := r.ReadFacts(ctx, testXUID, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(30), got[0].Kills)
}

func TestFactRoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	dur := 702.5
	withOptionals := testFact("m-001", time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC))
	withOptionals.DurationSeconds = &dur
	withOptionals.Accuracy = nil

	withoutOptionals := testFact("m-002", time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC))
	withoutOptionals.KDA = nil
	withoutOptionals.DurationSeconds = nil

	_, err := w.WriteFacts(ctx, []domain.MatchFact{withOptionals, withoutOptionals})
	require.NoError(t, err)

	got, err := r.ReadFacts(ctx, testXUID, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Rows come back sorted by start time.
	assert.Equal(t, "m-001", got[0].MatchID)
	assert.True(t, got[0].StartTime.Equal(withOptionals.StartTime))
	require.NotNil(t, got[0].DurationSeconds)
	assert.Equal(t, dur, *got[0].DurationSeconds)
	assert.Nil(t, got[0].Accuracy)
	require.NotNil(t, got[0].KDA)
	assert.Equal(t, 2.5, *got[0].KDA)

	assert.Equal(t, "m-002", got[1].MatchID)
	assert.Nil(t, got[1].KDA)
	assert.Nil(t, got[1].DurationSeconds)
	assert.Equal(t, int32(15), got[1].Kills)
}

func TestReadFactsRangeFilter(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	// one match per day, March 1st through 10th
	facts := makeFacts(10, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 24*time.Hour)
	_, err := w.WriteFacts(ctx, facts)
	require.NoError(t, err)

	start := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 23, 59, 59, 0, time.UTC)
	got, err := r.ReadFacts(ctx, testXUID, ReadOptions{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, f := range got {
		assert.False(t, f.StartTime.Before(start))
		assert.False(t, f.StartTime.After(end))
	}
}

func TestReadFactsProjection(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	_, err := w.WriteFacts(ctx, []domain.MatchFact{
		testFact("m-001", time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	got, err := r.ReadFacts(ctx, testXUID, ReadOptions{Columns: []string{"match_id", "kills"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m-001", got[0].MatchID)
	assert.Equal(t, int32(15), got[0].Kills)
	// unprojected fields stay at their zero values
	assert.Empty(t, got[0].XUID)
	assert.True(t, got[0].StartTime.IsZero())
	assert.Nil(t, got[0].KDA)
}

func TestReadMissingWarehouse(t *testing.T) {
	r := NewReader(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	facts, err := r.ReadFacts(ctx, testXUID, ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, facts)

	total, err := r.CountRows(testXUID)
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.False(t, r.HasData(testXUID))
}

func TestWriteMedalsDedup(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	medals := []domain.MedalAward{
		{MatchID: "m-001", XUID: testXUID, MedalNameID: 100, Count: 2, Year: 2024, Month: 3},
		{MatchID: "m-001", XUID: testXUID, MedalNameID: 200, Count: 1, Year: 2024, Month: 3},
		{MatchID: "m-002", XUID: testXUID, MedalNameID: 100, Count: 1, Year: 2024, Month: 3},
	}
	n, err := w.WriteMedals(ctx, medals)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// same awards again, one with an updated count
	medals[0].Count = 5
	n, err = w.WriteMedals(ctx, medals)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := r.ReadMedals(ctx, testXUID, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)

	onlyM1, err := r.ReadMedals(ctx, testXUID, []string{"m-001"})
	require.NoError(t, err)
	require.Len(t, onlyM1, 2)
	for _, m := range onlyM1 {
		if m.MedalNameID == 100 {
			assert.Equal(t, int32(5), m.Count)
		}
	}
}

func TestWriteMedalsResyncReplacesMatch(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	_, err := w.WriteMedals(ctx, []domain.MedalAward{
		{MatchID: "m-001", XUID: testXUID, MedalNameID: 100, Count: 2, Year: 2024, Month: 3},
		{MatchID: "m-001", XUID: testXUID, MedalNameID: 200, Count: 1, Year: 2024, Month: 3},
		{MatchID: "m-002", XUID: testXUID, MedalNameID: 300, Count: 1, Year: 2024, Month: 3},
	})
	require.NoError(t, err)

	// m-001 re-synced without medal 200: its medal set is replaced, not
	// patched, so the stale award disappears
	n, err := w.WriteMedals(ctx, []domain.MedalAward{
		{MatchID: "m-001", XUID: testXUID, MedalNameID: 100, Count: 3, Year: 2024, Month: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	onlyM1, err := r.ReadMedals(ctx, testXUID, []string{"m-001"})
	require.NoError(t, err)
	require.Len(t, onlyM1, 1)
	assert.Equal(t, int64(100), onlyM1[0].MedalNameID)
	assert.Equal(t, int32(3), onlyM1[0].Count)

	// other matches in the partition are untouched
	onlyM2, err := r.ReadMedals(ctx, testXUID, []string{"m-002"})
	require.NoError(t, err)
	require.Len(t, onlyM2, 1)
	assert.Equal(t, int64(300), onlyM2[0].MedalNameID)
}

func TestReadFactsProjectionWithRange(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zerolog.Nop())
	r := NewReader(root, zerolog.Nop())
	ctx := context.Background()

	facts := makeFacts(5, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 24*time.Hour)
	_, err := w.WriteFacts(ctx, facts)
	require.NoError(t, err)

	// a projection that omits start_time still gets its rows range-filtered
	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	got, err := r.ReadFacts(ctx, testXUID, ReadOptions{
		Start:   &start,
		End:     &end,
		Columns: []string{"match_id", "kills"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, f := range got {
		assert.False(t, f.StartTime.IsZero())
		assert.Empty(t, f.XUID)
	}
}

func TestPruneRange(t *testing.T) {
	keys := []PartitionKey{
		{XUID: testXUID, Year: 2023, Month: 12},
		{XUID: testXUID, Year: 2024, Month: 1},
		{XUID: testXUID, Year: 2024, Month: 2},
		{XUID: testXUID, Year: 2024, Month: 3},
	}

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	pruned := PruneRange(keys, &start, &end)
	require.Len(t, pruned, 2)
	assert.Equal(t, int32(1), pruned[0].Month)
	assert.Equal(t, int32(2), pruned[1].Month)

	// open-ended bounds
	assert.Len(t, PruneRange(keys, &start, nil), 3)
	assert.Len(t, PruneRange(keys, nil, &end), 3)
	assert.Len(t, PruneRange(keys, nil, nil), 4)
}

func TestGlobAllPlayers(t *testing.T) {
	got := GlobAllPlayers("/data/warehouse", TableMatchFacts)
	assert.Equal(t, "/data/warehouse/match_facts/player=*/year=*/month=*/data.parquet", got)
}
