// Package migration moves a player's legacy match blobs into the Parquet
// warehouse. The writer dedups on natural keys, so a re-run after a partial
// failure only adds the missing rows.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"halo-tracker/internal/domain"
	"halo-tracker/internal/fact"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/warehouse"
)

// Summary reports one migration batch. A non-zero Errors count is the only
// signal of per-record conversion failures; the batch itself still
// succeeds.
type Summary struct {
	RowsWritten int
	Errors      int
	TotalLegacy int
}

// Progress is computed from live counts, never stored.
type Progress struct {
	LegacyCount int64
	HybridCount int64
	Percent     float64
	Complete    bool
}

// ProgressFunc receives (processed, total) as conversion advances.
type ProgressFunc func(processed, total int)

type Migrator struct {
	xuid   string
	store  *metadata.Store
	writer *warehouse.Writer
	reader *warehouse.Reader
	logger zerolog.Logger
}

func NewMigrator(xuid string, store *metadata.Store, writer *warehouse.Writer, reader *warehouse.Reader, logger zerolog.Logger) *Migrator {
	return &Migrator{
		xuid:   xuid,
		store:  store,
		writer: writer,
		reader: reader,
		logger: logger,
	}
}

// legacyMedals is the medal fragment of a match blob.
type legacyMedals struct {
	Medals []struct {
		NameID int64 `json:"name_id"`
		Count  int32 `json:"count"`
	} `json:"medals"`
}

// Migrate reads every legacy blob for the player, converts it through the
// fact model and writes the whole batch through the merge-on-write path.
// Per-record failures are counted and logged; they never abort the batch.
func (m *Migrator) Migrate(ctx context.Context, onProgress ProgressFunc) (Summary, error) {
	if err := m.store.UpdateSyncMetadata(ctx, m.xuid, map[string]any{
		"status": domain.SyncStatusMigrating,
	}); err != nil {
		return Summary{}, err
	}

	payloads, err := m.loadLegacyPayloads(ctx)
	if err != nil {
		m.markError(ctx, err)
		return Summary{}, err
	}

	summary := Summary{TotalLegacy: len(payloads)}
	var facts []domain.MatchFact
	var medals []domain.MedalAward

	for i, payload := range payloads {
		var raw map[string]any
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			summary.Errors++
			m.logger.Warn().Err(err).Int("record", i).Msg("skipping undecodable legacy blob")
			continue
		}

		f, err := fact.Validate(raw)
		if err != nil {
			summary.Errors++
			m.logger.Warn().Err(err).Int("record", i).Msg("skipping invalid legacy record")
			continue
		}
		facts = append(facts, f)

		var lm legacyMedals
		if err := json.Unmarshal([]byte(payload), &lm); err == nil {
			for _, md := range lm.Medals {
				count := md.Count
				if count <= 0 {
					count = 1
				}
				medals = append(medals, domain.MedalAward{
					MatchID:     f.MatchID,
					XUID:        f.XUID,
					MedalNameID: md.NameID,
					Count:       count,
					Year:        f.Year,
					Month:       f.Month,
				})
			}
		}

		if onProgress != nil {
			onProgress(i+1, len(payloads))
		}
	}

	written, err := m.writer.WriteFacts(ctx, facts)
	if err != nil {
		m.markError(ctx, err)
		return summary, fmt.Errorf("failed to write fact batch: %w", err)
	}
	summary.RowsWritten = written

	if _, err := m.writer.WriteMedals(ctx, medals); err != nil {
		m.markError(ctx, err)
		return summary, fmt.Errorf("failed to write medal batch: %w", err)
	}

	columnarRows, err := m.reader.CountRows(m.xuid)
	if err != nil {
		m.markError(ctx, err)
		return summary, fmt.Errorf("failed to count migrated rows: %w", err)
	}

	if err := m.store.UpdateSyncMetadata(ctx, m.xuid, map[string]any{
		"total_columnar_rows": columnarRows,
		"status":              domain.SyncStatusMigrated,
		"last_sync_at":        time.Now().UTC(),
	}); err != nil {
		return summary, err
	}

	runID, err := gonanoid.New()
	if err != nil {
		return summary, fmt.Errorf("failed to generate nanoid: %w", err)
	}
	if err := m.store.SetMigrationMeta(ctx, "last_run_id", runID); err != nil {
		return summary, err
	}
	if err := m.store.SetMigrationMeta(ctx, "last_run_summary",
		fmt.Sprintf("rows_written=%d errors=%d total_legacy=%d", summary.RowsWritten, summary.Errors, summary.TotalLegacy)); err != nil {
		return summary, err
	}

	m.logger.Info().
		Str("xuid", m.xuid).
		Str("run_id", runID).
		Int("rows_written", summary.RowsWritten).
		Int("errors", summary.Errors).
		Int("total_legacy", summary.TotalLegacy).
		Msg("migration batch complete")
	return summary, nil
}

func (m *Migrator) loadLegacyPayloads(ctx context.Context) ([]string, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT payload FROM matches WHERE xuid = ? ORDER BY start_time`, m.xuid)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy matches: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

func (m *Migrator) markError(ctx context.Context, cause error) {
	if err := m.store.UpdateSyncMetadata(ctx, m.xuid, map[string]any{
		"status":        domain.SyncStatusError,
		"error_message": cause.Error(),
	}); err != nil {
		m.logger.Error().Err(err).Msg("failed to record migration error")
	}
}

// GetProgress computes migration progress from live counts. An empty legacy
// store counts as fully migrated.
func (m *Migrator) GetProgress(ctx context.Context) (Progress, error) {
	var legacyCount int64
	err := m.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matches WHERE xuid = ?`, m.xuid).Scan(&legacyCount)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to count legacy matches: %w", err)
	}

	hybridCount, err := m.reader.CountRows(m.xuid)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		LegacyCount: legacyCount,
		HybridCount: hybridCount,
		Complete:    hybridCount >= legacyCount,
	}
	if legacyCount == 0 {
		p.Percent = 100
	} else {
		p.Percent = float64(hybridCount) / float64(legacyCount) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	return p, nil
}
