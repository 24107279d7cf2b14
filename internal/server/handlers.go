package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"halo-tracker/internal/analytics"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/fact"
)

type matchResponse struct {
	MatchID            string   `json:"match_id"`
	StartTime          string   `json:"start_time"`
	PlaylistAssetID    string   `json:"playlist_asset_id,omitempty"`
	MapAssetID         string   `json:"map_asset_id,omitempty"`
	GameVariantAssetID string   `json:"game_variant_asset_id,omitempty"`
	Outcome            string   `json:"outcome"`
	Rank               int32    `json:"rank"`
	DurationSeconds    *float64 `json:"duration_seconds"`
	Kills              int32    `json:"kills"`
	Deaths             int32    `json:"deaths"`
	Assists            int32    `json:"assists"`
	KDA                *float64 `json:"kda"`
	Accuracy           *float64 `json:"accuracy"`
	DamageDealt        int32    `json:"damage_dealt"`
	DamageTaken        int32    `json:"damage_taken"`
	Score              int32    `json:"score"`
	MedalCount         int32    `json:"medal_count"`
}

func toMatchResponse(m domain.MatchFact) matchResponse {
	return matchResponse{
		MatchID:            m.MatchID,
		StartTime:          m.StartTime.Format(time.RFC3339),
		PlaylistAssetID:    m.PlaylistAssetID,
		MapAssetID:         m.MapAssetID,
		GameVariantAssetID: m.GameVariantAssetID,
		Outcome:            m.Outcome.String(),
		Rank:               m.Rank,
		DurationSeconds:    m.DurationSeconds,
		Kills:              m.Kills,
		Deaths:             m.Deaths,
		Assists:            m.Assists,
		KDA:                m.KDA,
		Accuracy:           m.Accuracy,
		DamageDealt:        m.DamageDealt,
		DamageTaken:        m.DamageTaken,
		Score:              m.Score,
		MedalCount:         m.MedalCount,
	}
}

func toMatchResponses(facts []domain.MatchFact) []matchResponse {
	out := make([]matchResponse, len(facts))
	for i, m := range facts {
		out[i] = toMatchResponse(m)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseOutcomeParam accepts both the numeric enum and the display names.
func parseOutcomeParam(v string) domain.Outcome {
	switch v {
	case "tie":
		return domain.OutcomeTie
	case "win":
		return domain.OutcomeWin
	case "loss":
		return domain.OutcomeLoss
	case "dnf":
		return domain.OutcomeDNF
	default:
		return fact.ParseOutcome(v)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"hybrid_available": s.repo.IsHybridAvailable(r.Context()),
	})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := domain.MatchFilters{
		PlaylistAssetID:    q.Get("playlist"),
		MapAssetID:         q.Get("map"),
		GameVariantAssetID: q.Get("variant"),
		Limit:              queryInt(r, "limit", 0),
	}
	if v := q.Get("outcome"); v != "" {
		filters.Outcome = parseOutcomeParam(v)
	}

	facts, err := s.repo.LoadMatches(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches": toMatchResponses(facts),
		"count":   len(facts),
	})
}

func (s *Server) handleMatchesInRange(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end precedes start")
		return
	}

	facts, err := s.repo.LoadMatchesInRange(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches": toMatchResponses(facts),
		"count":   len(facts),
	})
}

func (s *Server) handleMatchMedals(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	medals, err := s.repo.LoadMatchMedals(r.Context(), matchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type medalResponse struct {
		MedalNameID int64 `json:"medal_name_id"`
		Count       int32 `json:"count"`
	}
	out := make([]medalResponse, len(medals))
	for i, m := range medals {
		out[i] = medalResponse{MedalNameID: m.MedalNameID, Count: m.Count}
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": matchID, "medals": out})
}

func (s *Server) handleTopMedals(w http.ResponseWriter, r *http.Request) {
	topN := queryInt(r, "limit", constants.DefaultTopMedals)
	stats, err := s.repo.LoadTopMedals(r.Context(), nil, topN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type medalStatResponse struct {
		MedalNameID int64  `json:"medal_name_id"`
		Name        string `json:"name,omitempty"`
		TotalCount  int    `json:"total_count"`
	}
	out := make([]medalStatResponse, len(stats))
	for i, st := range stats {
		out[i] = medalStatResponse{MedalNameID: st.MedalNameID, Name: st.NameEn, TotalCount: st.TotalCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"medals": out})
}

func (s *Server) handleTeammates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", constants.DefaultTopTeammates)
	teammates, err := s.repo.ListTopTeammates(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type teammateResponse struct {
		XUID            string `json:"xuid"`
		Gamertag        string `json:"gamertag,omitempty"`
		MatchesTogether int    `json:"matches_together"`
		WinsTogether    int    `json:"wins_together"`
	}
	out := make([]teammateResponse, len(teammates))
	for i, t := range teammates {
		out[i] = teammateResponse{XUID: t.XUID, Gamertag: t.Gamertag, MatchesTogether: t.MatchesTogether, WinsTogether: t.WinsTogether}
	}
	writeJSON(w, http.StatusOK, map[string]any{"teammates": out})
}

func (s *Server) handleStorageInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.repo.GetStorageInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":              info.Backend,
		"mode":                 info.Mode,
		"warehouse_path":       info.WarehousePath,
		"partition_file_count": info.PartitionFileCount,
		"warehouse_size_bytes": info.WarehouseSizeBytes,
	})
}

func (s *Server) handleSyncMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.repo.GetSyncMetadata(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"xuid":                meta.XUID,
		"last_sync_at":        meta.LastSyncAt,
		"last_match_id":       meta.LastMatchID,
		"total_matches":       meta.TotalMatches,
		"total_columnar_rows": meta.TotalColumnarRows,
		"status":              meta.Status,
		"error_message":       meta.ErrorMessage,
	})
}

// handleDashboard assembles the overview panels in one round trip. The
// repository methods are independent reads, so they fan out concurrently.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var (
		count     int64
		medals    []domain.MedalStat
		teammates []domain.Teammate
		sync      domain.SyncMetadata
		storage   domain.StorageInfo
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		count, err = s.repo.GetMatchCount(ctx)
		return err
	})
	g.Go(func() (err error) {
		medals, err = s.repo.LoadTopMedals(ctx, nil, constants.DefaultTopMedals)
		return err
	})
	g.Go(func() (err error) {
		teammates, err = s.repo.ListTopTeammates(ctx, constants.DefaultTopTeammates)
		return err
	})
	g.Go(func() (err error) {
		sync, err = s.repo.GetSyncMetadata(ctx)
		return err
	})
	g.Go(func() (err error) {
		storage, err = s.repo.GetStorageInfo(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"match_count": count,
		"top_medals":  medals,
		"teammates":   teammates,
		"sync":        sync,
		"storage":     storage,
	})
}

// requireColumnar gates the analytics endpoints; they always run against
// the warehouse, which legacy mode does not have.
func (s *Server) requireColumnar(w http.ResponseWriter) ([]string, *analytics.Engine, bool) {
	if s.columnar == nil {
		writeError(w, http.StatusNotImplemented, "analytics requires hybrid or shadow storage mode")
		return nil, nil, false
	}
	files, err := s.columnar.FactFiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	return files, s.columnar.Engine(), true
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	files, engine, ok := s.requireColumnar(w)
	if !ok {
		return
	}
	window := queryInt(r, "window", constants.TrailingWindowSize)
	points, err := engine.TrendSeries(r.Context(), files, window)
	if err != nil && !errors.Is(err, analytics.ErrEmptyScan) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type trendResponse struct {
		MatchID       string   `json:"match_id"`
		StartTime     string   `json:"start_time"`
		KDATrend      *float64 `json:"kda_trend"`
		AccuracyTrend *float64 `json:"accuracy_trend"`
	}
	out := make([]trendResponse, len(points))
	for i, p := range points {
		out[i] = trendResponse{
			MatchID:       p.MatchID,
			StartTime:     p.StartTime.Format(time.RFC3339),
			KDATrend:      p.KDATrend,
			AccuracyTrend: p.AccuracyTrend,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window, "points": out})
}

func (s *Server) handleStreaks(w http.ResponseWriter, r *http.Request) {
	files, engine, ok := s.requireColumnar(w)
	if !ok {
		return
	}
	streaks, err := engine.Streaks(r.Context(), files)
	if err != nil && !errors.Is(err, analytics.ErrEmptyScan) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type streakResponse struct {
		Outcome   string `json:"outcome"`
		Length    int    `json:"length"`
		StartedAt string `json:"started_at"`
		EndedAt   string `json:"ended_at"`
	}
	out := make([]streakResponse, len(streaks))
	for i, st := range streaks {
		out[i] = streakResponse{
			Outcome:   st.Outcome.String(),
			Length:    st.Length,
			StartedAt: st.StartedAt.Format(time.RFC3339),
			EndedAt:   st.EndedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"streaks": out})
}

func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	files, engine, ok := s.requireColumnar(w)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", constants.DefaultTopMedals)
	peaks, err := engine.PeakMatches(r.Context(), files, limit)
	if err != nil && !errors.Is(err, analytics.ErrEmptyScan) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type peakResponse struct {
		MatchID     string  `json:"match_id"`
		StartTime   string  `json:"start_time"`
		KDA         float64 `json:"kda"`
		PercentRank float64 `json:"percent_rank"`
	}
	out := make([]peakResponse, len(peaks))
	for i, p := range peaks {
		out[i] = peakResponse{
			MatchID:     p.MatchID,
			StartTime:   p.StartTime.Format(time.RFC3339),
			KDA:         p.KDA,
			PercentRank: p.PercentRank,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"peaks": out})
}

func (s *Server) handleComparePeriods(w http.ResponseWriter, r *http.Request) {
	files, engine, ok := s.requireColumnar(w)
	if !ok {
		return
	}
	days := queryInt(r, "days", 30)
	cmp, err := engine.ComparePeriods(r.Context(), files, time.Now().UTC(), time.Duration(days)*24*time.Hour)
	if err != nil && !errors.Is(err, analytics.ErrEmptyScan) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	toStats := func(p analytics.PeriodStats) map[string]any {
		return map[string]any{
			"matches":      p.Matches,
			"wins":         p.Wins,
			"avg_kda":      p.AvgKDA,
			"avg_accuracy": p.AvgAccuracy,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days": days,
		"current":     toStats(cmp.Current),
		"previous":    toStats(cmp.Previous),
	})
}

func (s *Server) handleMigrationProgress(w http.ResponseWriter, r *http.Request) {
	if s.migrator == nil {
		writeError(w, http.StatusNotImplemented, "migration not configured in this storage mode")
		return
	}
	p, err := s.migrator.GetProgress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"legacy_count":     p.LegacyCount,
		"hybrid_count":     p.HybridCount,
		"progress_percent": p.Percent,
		"complete":         p.Complete,
	})
}

func (s *Server) handleMigrationRun(w http.ResponseWriter, r *http.Request) {
	if s.migrator == nil {
		writeError(w, http.StatusNotImplemented, "migration not configured in this storage mode")
		return
	}
	summary, err := s.migrator.Migrate(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows_written": summary.RowsWritten,
		"errors":       summary.Errors,
		"total_legacy": summary.TotalLegacy,
	})
}
