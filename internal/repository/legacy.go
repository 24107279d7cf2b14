package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"halo-tracker/internal/domain"
	"halo-tracker/internal/fact"
	"halo-tracker/internal/metadata"
)

// LegacyRepository reads the row-oriented blob store: one JSON document per
// (match, player) in the source SQLite file, with a precomputed match_cache
// row table in front of it. Cache misses and cache failures fall back to
// full blob parsing.
type LegacyRepository struct {
	xuid   string
	store  *metadata.Store
	db     *sql.DB
	logger zerolog.Logger
}

func NewLegacyRepository(xuid string, store *metadata.Store, logger zerolog.Logger) *LegacyRepository {
	return &LegacyRepository{
		xuid:   xuid,
		store:  store,
		db:     store.DB(),
		logger: logger,
	}
}

func (r *LegacyRepository) LoadMatches(ctx context.Context, filters domain.MatchFilters) ([]domain.MatchFact, error) {
	facts, err := r.loadFromCache(ctx, filters, nil, nil)
	if err != nil || len(facts) == 0 {
		if err != nil {
			r.logger.Warn().Err(err).Msg("cache read failed, falling back to blob parse")
		}
		return r.loadFromBlobs(ctx, filters, nil, nil)
	}
	return facts, nil
}

func (r *LegacyRepository) LoadMatchesInRange(ctx context.Context, start, end time.Time) ([]domain.MatchFact, error) {
	s, e := start.UTC(), end.UTC()
	facts, err := r.loadFromCache(ctx, domain.MatchFilters{}, &s, &e)
	if err != nil || len(facts) == 0 {
		if err != nil {
			r.logger.Warn().Err(err).Msg("cache read failed, falling back to blob parse")
		}
		return r.loadFromBlobs(ctx, domain.MatchFilters{}, &s, &e)
	}
	return facts, nil
}

func (r *LegacyRepository) loadFromCache(ctx context.Context, filters domain.MatchFilters, start, end *time.Time) ([]domain.MatchFact, error) {
	query := `
		SELECT match_id, xuid, start_time, playlist_asset_id, map_asset_id, game_variant_asset_id,
			outcome, rank, duration_seconds, kills, deaths, assists, kda, accuracy, score, team_id, medal_count
		FROM match_cache WHERE xuid = ?`
	args := []any{r.xuid}

	if filters.PlaylistAssetID != "" {
		query += " AND playlist_asset_id = ?"
		args = append(args, filters.PlaylistAssetID)
	}
	if filters.MapAssetID != "" {
		query += " AND map_asset_id = ?"
		args = append(args, filters.MapAssetID)
	}
	if filters.GameVariantAssetID != "" {
		query += " AND game_variant_asset_id = ?"
		args = append(args, filters.GameVariantAssetID)
	}
	if filters.Outcome != 0 {
		query += " AND outcome = ?"
		args = append(args, int(filters.Outcome))
	}
	if start != nil {
		query += " AND start_time >= ?"
		args = append(args, *start)
	}
	if end != nil {
		query += " AND start_time <= ?"
		args = append(args, *end)
	}

	query += " ORDER BY start_time DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
		if err := rows.Scan(&f.MatchID, &f.XUID, &f.StartTime, &playlist, &mapID, &variant,
			&outcome, &f.Rank, &duration, &f.Kills, &f.Deaths, &f.Assists, &kda, &accuracy,
			&f.Score, &f.TeamID, &f.MedalCount); err != nil {
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
		f.Year, f.Month = fact.Partition(f.StartTime)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (r *LegacyRepository) loadFromBlobs(ctx context.Context, filters domain.MatchFilters, start, end *time.Time) ([]domain.MatchFact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM matches WHERE xuid = ? ORDER BY start_time DESC`, r.xuid)
	if err != nil {
		return nil, fmt.Errorf("failed to read match blobs: %w", err)
	}
	defer rows.Close()

	var facts []domain.MatchFact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			r.logger.Warn().Err(err).Msg("skipping undecodable match blob")
			continue
		}
		f, err := fact.Validate(raw)
		if err != nil {
			r.logger.Warn().Err(err).Msg("skipping invalid match blob")
			continue
		}

		if !filters.Matches(f) {
			continue
		}
		if start != nil && f.StartTime.Before(*start) {
			continue
		}
		if end != nil && f.StartTime.After(*end) {
			continue
		}

		facts = append(facts, f)
		if filters.Limit > 0 && len(facts) >= filters.Limit {
			break
		}
	}
	return facts, rows.Err()
}

func (r *LegacyRepository) GetMatchCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches WHERE xuid = ?`, r.xuid).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count legacy matches: %w", err)
	}
	return count, nil
}

func (r *LegacyRepository) LoadTopMedals(ctx context.Context, matchIDs []string, topN int) ([]domain.MedalStat, error) {
	if len(matchIDs) == 0 {
		return []domain.MedalStat{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(matchIDs)), ",")
	args := make([]any, 0, len(matchIDs)+1)
	for _, id := range matchIDs {
		args = append(args, id)
	}
	args = append(args, topN)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.medal_name_id, COALESCE(d.name_en, ''), SUM(m.count) AS total
		FROM match_medals m
		LEFT JOIN medal_definitions d ON d.name_id = m.medal_name_id
		WHERE m.match_id IN (%s)
		GROUP BY m.medal_name_id
		ORDER BY total DESC
		LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load top medals: %w", err)
	}
	defer rows.Close()

	var stats []domain.MedalStat
	for rows.Next() {
		var s domain.MedalStat
		if err := rows.Scan(&s.MedalNameID, &s.NameEn, &s.TotalCount); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *LegacyRepository) LoadMatchMedals(ctx context.Context, matchID string) ([]domain.MedalAward, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT match_id, xuid, medal_name_id, count FROM match_medals WHERE match_id = ? ORDER BY medal_name_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match medals: %w", err)
	}
	defer rows.Close()

	var medals []domain.MedalAward
	for rows.Next() {
		var m domain.MedalAward
		if err := rows.Scan(&m.MatchID, &m.XUID, &m.MedalNameID, &m.Count); err != nil {
			return nil, err
		}
		medals = append(medals, m)
	}
	return medals, rows.Err()
}

// legacyRoster is the roster fragment of a match blob, used only for
// teammate aggregation.
type legacyRoster struct {
	Players []struct {
		XUID     string `json:"xuid"`
		Gamertag string `json:"gamertag"`
		TeamID   int32  `json:"team_id"`
		Outcome  int32  `json:"outcome"`
	} `json:"players"`
	TeamID  int32 `json:"team_id"`
	Outcome int32 `json:"outcome"`
}

func (r *LegacyRepository) ListTopTeammates(ctx context.Context, limit int) ([]domain.Teammate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM matches WHERE xuid = ?`, r.xuid)
	if err != nil {
		return nil, fmt.Errorf("failed to read match blobs for teammates: %w", err)
	}
	defer rows.Close()

	type agg struct {
		gamertag string
		matches  int
		wins     int
	}
	teammates := make(map[string]*agg)

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var roster legacyRoster
		if err := json.Unmarshal([]byte(payload), &roster); err != nil {
			continue
		}
		for _, p := range roster.Players {
			if p.XUID == "" || p.XUID == r.xuid || p.TeamID != roster.TeamID {
				continue
			}
			a, ok := teammates[p.XUID]
			if !ok {
				a = &agg{}
				teammates[p.XUID] = a
			}
			if p.Gamertag != "" {
				a.gamertag = p.Gamertag
			}
			a.matches++
			if domain.Outcome(roster.Outcome) == domain.OutcomeWin {
				a.wins++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Teammate, 0, len(teammates))
	for xuid, a := range teammates {
		out = append(out, domain.Teammate{
			XUID:            xuid,
			Gamertag:        a.gamertag,
			MatchesTogether: a.matches,
			WinsTogether:    a.wins,
		})
	}
	sortTeammates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTeammates(ts []domain.Teammate) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].MatchesTogether == ts[j].MatchesTogether {
			return ts[i].XUID < ts[j].XUID
		}
		return ts[i].MatchesTogether > ts[j].MatchesTogether
	})
}

func (r *LegacyRepository) GetSyncMetadata(ctx context.Context) (domain.SyncMetadata, error) {
	return r.store.GetSyncMetadata(ctx, r.xuid)
}

func (r *LegacyRepository) GetStorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	return domain.StorageInfo{
		Backend: "legacy",
		Mode:    "legacy",
	}, nil
}

// IsHybridAvailable is always false here: the legacy backend never has
// columnar data of its own.
func (r *LegacyRepository) IsHybridAvailable(ctx context.Context) bool {
	return false
}

// Close is a no-op; the metadata store is owned by the caller.
func (r *LegacyRepository) Close() error {
	return nil
}
