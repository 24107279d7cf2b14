package repository

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"halo-tracker/internal/domain"
)

// ShadowRepository composes the legacy and columnar repositories behind the
// same interface while a migration is in flight. It is routing, not a third
// storage backend. The mode is fixed at construction; promotion between
// modes is an external operational decision.
type ShadowRepository struct {
	legacy   *LegacyRepository
	columnar *ColumnarRepository
	mode     ShadowMode
	logger   zerolog.Logger

	// reads run on concurrent request goroutines
	divergences atomic.Int64
}

func NewShadowRepository(legacy *LegacyRepository, columnar *ColumnarRepository, mode ShadowMode, logger zerolog.Logger) *ShadowRepository {
	return &ShadowRepository{
		legacy:   legacy,
		columnar: columnar,
		mode:     mode,
		logger:   logger,
	}
}

// Mode returns the routing mode fixed at construction.
func (r *ShadowRepository) Mode() ShadowMode {
	return r.mode
}

// Divergences returns how many compare-mode reads disagreed between the two
// backends since construction.
func (r *ShadowRepository) Divergences() int64 {
	return r.divergences.Load()
}

// Columnar exposes the warehouse side for analytical callers. Analytics
// always runs against the warehouse regardless of routing mode.
func (r *ShadowRepository) Columnar() *ColumnarRepository {
	return r.columnar
}

// serveFromColumnar reports whether reads go to the warehouse: only in
// hybrid-first mode, and only when the player actually has columnar data.
func (r *ShadowRepository) serveFromColumnar(ctx context.Context) bool {
	return r.mode == HybridFirst && r.columnar.IsHybridAvailable(ctx)
}

func (r *ShadowRepository) LoadMatches(ctx context.Context, filters domain.MatchFilters) ([]domain.MatchFact, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.LoadMatches(ctx, filters)
	}

	facts, err := r.legacy.LoadMatches(ctx, filters)
	if err != nil {
		return nil, err
	}
	if r.mode == ShadowCompare {
		r.compareMatches(ctx, "load_matches", facts, func(ctx context.Context) ([]domain.MatchFact, error) {
			return r.columnar.LoadMatches(ctx, filters)
		})
	}
	return facts, nil
}

func (r *ShadowRepository) LoadMatchesInRange(ctx context.Context, start, end time.Time) ([]domain.MatchFact, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.LoadMatchesInRange(ctx, start, end)
	}

	facts, err := r.legacy.LoadMatchesInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if r.mode == ShadowCompare {
		r.compareMatches(ctx, "load_matches_in_range", facts, func(ctx context.Context) ([]domain.MatchFact, error) {
			return r.columnar.LoadMatchesInRange(ctx, start, end)
		})
	}
	return facts, nil
}

// compareMatches mirrors a legacy read against columnar and counts id-set
// divergences. Mirror failures and divergences are logged, never raised:
// compare mode exists to audit a migration, not to break reads.
func (r *ShadowRepository) compareMatches(ctx context.Context, op string, legacyFacts []domain.MatchFact, mirror func(context.Context) ([]domain.MatchFact, error)) {
	columnarFacts, err := mirror(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("op", op).Msg("shadow compare mirror failed")
		return
	}
	r.compareIDSets(op, matchIDs(legacyFacts), matchIDs(columnarFacts))
}

func matchIDs(facts []domain.MatchFact) []string {
	ids := make([]string, len(facts))
	for i, f := range facts {
		ids[i] = f.MatchID
	}
	return ids
}

func medalNameIDs[T any](rows []T, nameID func(T) int64) []string {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = strconv.FormatInt(nameID(row), 10)
	}
	return ids
}

// compareIDSets counts one divergence when the two backends disagree on the
// id set of a read.
func (r *ShadowRepository) compareIDSets(op string, legacy, columnar []string) {
	legacyIDs := make(map[string]struct{}, len(legacy))
	for _, id := range legacy {
		legacyIDs[id] = struct{}{}
	}
	columnarIDs := make(map[string]struct{}, len(columnar))
	for _, id := range columnar {
		columnarIDs[id] = struct{}{}
	}

	missing := 0
	for id := range legacyIDs {
		if _, ok := columnarIDs[id]; !ok {
			missing++
		}
	}
	extra := 0
	for id := range columnarIDs {
		if _, ok := legacyIDs[id]; !ok {
			extra++
		}
	}

	if missing > 0 || extra > 0 {
		r.logger.Warn().
			Str("op", op).
			Int("missing_in_columnar", missing).
			Int("extra_in_columnar", extra).
			Int64("divergences", r.divergences.Add(1)).
			Msg("shadow compare divergence")
	}
}

func (r *ShadowRepository) GetMatchCount(ctx context.Context) (int64, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.GetMatchCount(ctx)
	}

	count, err := r.legacy.GetMatchCount(ctx)
	if err != nil {
		return 0, err
	}
	if r.mode == ShadowCompare {
		if columnarCount, cErr := r.columnar.GetMatchCount(ctx); cErr == nil && columnarCount != count {
			r.logger.Warn().
				Int64("legacy_count", count).
				Int64("columnar_count", columnarCount).
				Int64("divergences", r.divergences.Add(1)).
				Msg("shadow compare count divergence")
		}
	}
	return count, nil
}

func (r *ShadowRepository) LoadTopMedals(ctx context.Context, ids []string, topN int) ([]domain.MedalStat, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.LoadTopMedals(ctx, ids, topN)
	}

	stats, err := r.legacy.LoadTopMedals(ctx, ids, topN)
	if err != nil {
		return nil, err
	}
	if r.mode == ShadowCompare {
		columnarStats, cErr := r.columnar.LoadTopMedals(ctx, ids, topN)
		if cErr != nil {
			r.logger.Warn().Err(cErr).Str("op", "load_top_medals").Msg("shadow compare mirror failed")
		} else {
			r.compareIDSets("load_top_medals",
				medalNameIDs(stats, func(s domain.MedalStat) int64 { return s.MedalNameID }),
				medalNameIDs(columnarStats, func(s domain.MedalStat) int64 { return s.MedalNameID }))
		}
	}
	return stats, nil
}

func (r *ShadowRepository) LoadMatchMedals(ctx context.Context, matchID string) ([]domain.MedalAward, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.LoadMatchMedals(ctx, matchID)
	}

	medals, err := r.legacy.LoadMatchMedals(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if r.mode == ShadowCompare {
		columnarMedals, cErr := r.columnar.LoadMatchMedals(ctx, matchID)
		if cErr != nil {
			r.logger.Warn().Err(cErr).Str("op", "load_match_medals").Msg("shadow compare mirror failed")
		} else {
			r.compareIDSets("load_match_medals",
				medalNameIDs(medals, func(m domain.MedalAward) int64 { return m.MedalNameID }),
				medalNameIDs(columnarMedals, func(m domain.MedalAward) int64 { return m.MedalNameID }))
		}
	}
	return medals, nil
}

func (r *ShadowRepository) ListTopTeammates(ctx context.Context, limit int) ([]domain.Teammate, error) {
	if r.serveFromColumnar(ctx) {
		return r.columnar.ListTopTeammates(ctx, limit)
	}

	teammates, err := r.legacy.ListTopTeammates(ctx, limit)
	if err != nil {
		return nil, err
	}
	if r.mode == ShadowCompare {
		columnarMates, cErr := r.columnar.ListTopTeammates(ctx, limit)
		if cErr != nil {
			r.logger.Warn().Err(cErr).Str("op", "list_top_teammates").Msg("shadow compare mirror failed")
		} else {
			legacyIDs := make([]string, len(teammates))
			for i, t := range teammates {
				legacyIDs[i] = t.XUID
			}
			columnarIDs := make([]string, len(columnarMates))
			for i, t := range columnarMates {
				columnarIDs[i] = t.XUID
			}
			r.compareIDSets("list_top_teammates", legacyIDs, columnarIDs)
		}
	}
	return teammates, nil
}

func (r *ShadowRepository) GetSyncMetadata(ctx context.Context) (domain.SyncMetadata, error) {
	return r.legacy.GetSyncMetadata(ctx)
}

func (r *ShadowRepository) GetStorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	info, err := r.columnar.GetStorageInfo(ctx)
	if err != nil {
		return info, err
	}
	info.Backend = "shadow"
	info.Mode = r.mode.String()
	return info, nil
}

func (r *ShadowRepository) IsHybridAvailable(ctx context.Context) bool {
	return r.columnar.IsHybridAvailable(ctx)
}

func (r *ShadowRepository) Close() error {
	return r.columnar.Close()
}
