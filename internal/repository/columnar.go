package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"halo-tracker/internal/analytics"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/warehouse"
)

// ColumnarRepository serves every read from the Parquet warehouse through
// the analytical engine. It owns the engine's connection and releases it on
// Close; the metadata store is shared with the rest of the process.
type ColumnarRepository struct {
	xuid   string
	reader *warehouse.Reader
	engine *analytics.Engine
	store  *metadata.Store
	logger zerolog.Logger
}

func NewColumnarRepository(xuid string, reader *warehouse.Reader, engine *analytics.Engine, store *metadata.Store, logger zerolog.Logger) *ColumnarRepository {
	return &ColumnarRepository{
		xuid:   xuid,
		reader: reader,
		engine: engine,
		store:  store,
		logger: logger,
	}
}

const factColumns = `match_id, xuid, start_time, year, month, playlist_asset_id, map_asset_id,
	game_variant_asset_id, outcome, rank, duration_seconds, kills, deaths, assists, betrayals,
	suicides, kda, accuracy, shots_fired, shots_hit, damage_dealt, damage_taken, score, team_id, medal_count`

func (r *ColumnarRepository) LoadMatches(ctx context.Context, filters domain.MatchFilters) ([]domain.MatchFact, error) {
	files, err := r.reader.PartitionFiles(warehouse.TableMatchFacts, r.xuid, nil, nil)
	if err != nil {
		return nil, err
	}

	where := []string{"xuid = ?"}
	args := []any{r.xuid}
	if filters.PlaylistAssetID != "" {
		where = append(where, "playlist_asset_id = ?")
		args = append(args, filters.PlaylistAssetID)
	}
	if filters.MapAssetID != "" {
		where = append(where, "map_asset_id = ?")
		args = append(args, filters.MapAssetID)
	}
	if filters.GameVariantAssetID != "" {
		where = append(where, "game_variant_asset_id = ?")
		args = append(args, filters.GameVariantAssetID)
	}
	if filters.Outcome != 0 {
		where = append(where, "outcome = ?")
		args = append(args, int(filters.Outcome))
	}

	text := fmt.Sprintf(`SELECT %s FROM {table} WHERE %s ORDER BY start_time DESC`,
		factColumns, strings.Join(where, " AND "))
	if filters.Limit > 0 {
		text += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}

	return r.queryFacts(ctx, analytics.NewQuery(text, analytics.BindPartitionFiles("table", files)), args...)
}

func (r *ColumnarRepository) LoadMatchesInRange(ctx context.Context, start, end time.Time) ([]domain.MatchFact, error) {
	s, e := start.UTC(), end.UTC()
	files, err := r.reader.PartitionFiles(warehouse.TableMatchFacts, r.xuid, &s, &e)
	if err != nil {
		return nil, err
	}

	q := analytics.NewQuery(fmt.Sprintf(`
		SELECT %s FROM {table}
		WHERE xuid = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time DESC`, factColumns),
		analytics.BindPartitionFiles("table", files))
	return r.queryFacts(ctx, q, r.xuid, s, e)
}

func (r *ColumnarRepository) queryFacts(ctx context.Context, q *analytics.Query, args ...any) ([]domain.MatchFact, error) {
	rows, err := r.engine.Query(ctx, q, args...)
	if errors.Is(err, analytics.ErrEmptyScan) {
		return []domain.MatchFact{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []domain.MatchFact
	for rows.Next() {
		var f domain.MatchFact
		var playlist, mapID, variant sql.NullString
		var outcome int32
		var duration, kda, accuracy sql.NullFloat64
		if err := rows.Scan(&f.MatchID, &f.XUID, &f.StartTime, &f.Year, &f.Month,
			&playlist, &mapID, &variant, &outcome, &f.Rank, &duration,
			&f.Kills, &f.Deaths, &f.Assists, &f.Betrayals, &f.Suicides,
			&kda, &accuracy, &f.ShotsFired, &f.ShotsHit,
			&f.DamageDealt, &f.DamageTaken, &f.Score, &f.TeamID, &f.MedalCount); err != nil {
			return nil, err
		}
		f.StartTime = f.StartTime.UTC()
		f.PlaylistAssetID = playlist.String
		f.MapAssetID = mapID.String
		f.GameVariantAssetID = variant.String
		f.Outcome = domain.Outcome(outcome)
		if duration.Valid {
			f.DurationSeconds = &duration.Float64
		}
		if kda.Valid {
			f.KDA = &kda.Float64
		}
		if accuracy.Valid {
			f.Accuracy = &accuracy.Float64
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetMatchCount uses the Parquet footer row counts; no rows are decoded.
func (r *ColumnarRepository) GetMatchCount(ctx context.Context) (int64, error) {
	return r.reader.CountRows(r.xuid)
}

func (r *ColumnarRepository) LoadTopMedals(ctx context.Context, matchIDs []string, topN int) ([]domain.MedalStat, error) {
	if len(matchIDs) == 0 {
		return []domain.MedalStat{}, nil
	}
	files, err := r.reader.PartitionFiles(warehouse.TableMedals, r.xuid, nil, nil)
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(matchIDs)), ",")
	args := make([]any, 0, len(matchIDs)+1)
	for _, id := range matchIDs {
		args = append(args, id)
	}
	args = append(args, topN)

	q := analytics.NewQuery(fmt.Sprintf(`
		SELECT medal_name_id, SUM(count) AS total
		FROM {medals}
		WHERE match_id IN (%s)
		GROUP BY medal_name_id
		ORDER BY total DESC
		LIMIT ?`, placeholders),
		analytics.BindPartitionFiles("medals", files))

	rows, err := r.engine.Query(ctx, q, args...)
	if errors.Is(err, analytics.ErrEmptyScan) {
		return []domain.MedalStat{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.MedalStat
	for rows.Next() {
		var s domain.MedalStat
		if err := rows.Scan(&s.MedalNameID, &s.TotalCount); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Medal names come from the metadata store; the stat rows stay usable
	// when a name is not yet seeded.
	ids := make([]int64, len(stats))
	for i, s := range stats {
		ids[i] = s.MedalNameID
	}
	defs, err := r.store.GetMedalDefinitions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range stats {
		if d, ok := defs[stats[i].MedalNameID]; ok {
			stats[i].NameEn = d.NameEn
		}
	}
	return stats, nil
}

func (r *ColumnarRepository) LoadMatchMedals(ctx context.Context, matchID string) ([]domain.MedalAward, error) {
	medals, err := r.reader.ReadMedals(ctx, r.xuid, []string{matchID})
	if err != nil {
		return nil, err
	}
	if medals == nil {
		medals = []domain.MedalAward{}
	}
	return medals, nil
}

func (r *ColumnarRepository) ListTopTeammates(ctx context.Context, limit int) ([]domain.Teammate, error) {
	mine, err := r.reader.PartitionFiles(warehouse.TableMatchFacts, r.xuid, nil, nil)
	if err != nil {
		return nil, err
	}
	allGlob := warehouse.GlobAllPlayers(r.reader.Root(), warehouse.TableMatchFacts)

	q := analytics.NewQuery(`
		WITH mine AS (
			SELECT match_id, team_id, outcome FROM {mine} WHERE xuid = ?
		)
		SELECT t.xuid,
			COUNT(*) AS matches_together,
			SUM(CASE WHEN m.outcome = 2 THEN 1 ELSE 0 END) AS wins_together
		FROM {everyone} t
		JOIN mine m ON t.match_id = m.match_id AND t.team_id = m.team_id
		WHERE t.xuid <> ?
		GROUP BY t.xuid
		ORDER BY matches_together DESC, t.xuid
		LIMIT ?`,
		analytics.BindPartitionFiles("mine", mine),
		analytics.BindPartitionGlob("everyone", allGlob, len(mine) > 0))

	rows, err := r.engine.Query(ctx, q, r.xuid, r.xuid, limit)
	if errors.Is(err, analytics.ErrEmptyScan) {
		return []domain.Teammate{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teammates []domain.Teammate
	for rows.Next() {
		var t domain.Teammate
		if err := rows.Scan(&t.XUID, &t.MatchesTogether, &t.WinsTogether); err != nil {
			return nil, err
		}
		teammates = append(teammates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	xuids := make([]string, len(teammates))
	for i, t := range teammates {
		xuids[i] = t.XUID
	}
	gamertags, err := r.store.GetGamertags(ctx, xuids)
	if err != nil {
		return nil, err
	}
	for i := range teammates {
		teammates[i].Gamertag = gamertags[teammates[i].XUID]
	}
	return teammates, nil
}

func (r *ColumnarRepository) GetSyncMetadata(ctx context.Context) (domain.SyncMetadata, error) {
	return r.store.GetSyncMetadata(ctx, r.xuid)
}

func (r *ColumnarRepository) GetStorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	info := domain.StorageInfo{
		Backend:       "columnar",
		Mode:          "hybrid",
		WarehousePath: r.reader.Root(),
	}

	playerSuffix := fmt.Sprintf("player=%s", r.xuid)
	err := filepath.WalkDir(r.reader.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // missing warehouse is an empty result, not an error
		}
		if d.IsDir() || !strings.Contains(path, playerSuffix) {
			return nil
		}
		if filepath.Ext(path) != ".parquet" {
			return nil
		}
		info.PartitionFileCount++
		if fi, err := d.Info(); err == nil {
			info.WarehouseSizeBytes += fi.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return info, err
	}
	return info, nil
}

func (r *ColumnarRepository) IsHybridAvailable(ctx context.Context) bool {
	return r.reader.HasData(r.xuid)
}

// Close releases the analytical connection.
func (r *ColumnarRepository) Close() error {
	return r.engine.Close()
}

// Engine exposes the analytical engine for trend/streak/peak surfaces.
func (r *ColumnarRepository) Engine() *analytics.Engine {
	return r.engine
}

// FactFiles lists the player's fact partition files for analytical scans.
func (r *ColumnarRepository) FactFiles() ([]string, error) {
	return r.reader.PartitionFiles(warehouse.TableMatchFacts, r.xuid, nil, nil)
}
