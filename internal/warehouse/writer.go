package warehouse

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"

	"halo-tracker/internal/domain"
)

// Writer merges facts into per-(player, year, month) partition files. Each
// write reads the existing partition, concatenates, dedups on the natural
// key and rewrites the file. Not safe for concurrent writers on the same
// partition; single-writer discipline is assumed.
type Writer struct {
	root   string
	logger zerolog.Logger
}

func NewWriter(root string, logger zerolog.Logger) *Writer {
	return &Writer{root: root, logger: logger}
}

// WriteFacts merges facts into their partitions and returns the number of
// rows that did not previously exist. Re-writing the same facts is a no-op.
func (w *Writer) WriteFacts(ctx context.Context, facts []domain.MatchFact) (int, error) {
	groups := make(map[PartitionKey][]domain.MatchFact)
	for _, f := range facts {
		key := PartitionKey{XUID: f.XUID, Year: f.Year, Month: f.Month}
		groups[key] = append(groups[key], f)
	}

	written := 0
	for key, group := range groups {
		n, err := w.mergeFactPartition(ctx, key, group)
		if err != nil {
			return written, fmt.Errorf("failed to merge partition %s: %w", key, err)
		}
		written += n
	}
	return written, nil
}

func (w *Writer) mergeFactPartition(ctx context.Context, key PartitionKey, incoming []domain.MatchFact) (int, error) {
	path := PartitionFile(w.root, TableMatchFacts, key)

	var existing []domain.MatchFact
	if fileExists(path) {
		if err := readParquetFile(ctx, path, nil, func(rec arrow.Record) {
			existing = decodeFactRecord(existing, rec)
		}); err != nil {
			return 0, err
		}
	}

	type factKey struct{ matchID, xuid string }
	merged := make(map[factKey]domain.MatchFact, len(existing)+len(incoming))
	for _, f := range existing {
		merged[factKey{f.MatchID, f.XUID}] = f
	}
	before := len(merged)
	for _, f := range incoming {
		// incoming rows win so a re-synced match replaces its old row
		merged[factKey{f.MatchID, f.XUID}] = f
	}
	added := len(merged) - before

	rows := make([]domain.MatchFact, 0, len(merged))
	for _, f := range merged {
		rows = append(rows, f)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].MatchID < rows[j].MatchID
		}
		return rows[i].StartTime.Before(rows[j].StartTime)
	})

	err := writeParquetFile(path, FactSchema(), len(rows), func(b *array.RecordBuilder, i int) {
		appendFactRow(b, rows[i])
	})
	if err != nil {
		return 0, err
	}

	w.logger.Debug().
		Str("partition", key.String()).
		Int("incoming", len(incoming)).
		Int("existing", len(existing)).
		Int("added", added).
		Msg("merged fact partition")
	return added, nil
}

// WriteMedals merges medal awards into their partitions. A match that
// appears in the batch has its stored medal set replaced wholesale, so a
// re-sync that dropped a medal also drops its row. The return value counts
// rows whose (match_id, medal_name_id) did not previously exist.
func (w *Writer) WriteMedals(ctx context.Context, medals []domain.MedalAward) (int, error) {
	groups := make(map[PartitionKey][]domain.MedalAward)
	for _, m := range medals {
		key := PartitionKey{XUID: m.XUID, Year: m.Year, Month: m.Month}
		groups[key] = append(groups[key], m)
	}

	written := 0
	for key, group := range groups {
		n, err := w.mergeMedalPartition(ctx, key, group)
		if err != nil {
			return written, fmt.Errorf("failed to merge medal partition %s: %w", key, err)
		}
		written += n
	}
	return written, nil
}

func (w *Writer) mergeMedalPartition(ctx context.Context, key PartitionKey, incoming []domain.MedalAward) (int, error) {
	path := PartitionFile(w.root, TableMedals, key)

	var existing []domain.MedalAward
	if fileExists(path) {
		if err := readParquetFile(ctx, path, nil, func(rec arrow.Record) {
			existing = decodeMedalRecord(existing, rec)
		}); err != nil {
			return 0, err
		}
	}

	type medalKey struct {
		matchID string
		nameID  int64
	}
	existingKeys := make(map[medalKey]struct{}, len(existing))
	for _, m := range existing {
		existingKeys[medalKey{m.MatchID, m.MedalNameID}] = struct{}{}
	}
	resynced := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		resynced[m.MatchID] = struct{}{}
	}

	merged := make(map[medalKey]domain.MedalAward, len(existing)+len(incoming))
	for _, m := range existing {
		// a re-synced match's medal set is replaced wholesale, never patched
		if _, ok := resynced[m.MatchID]; ok {
			continue
		}
		merged[medalKey{m.MatchID, m.MedalNameID}] = m
	}
	added := 0
	for _, m := range incoming {
		k := medalKey{m.MatchID, m.MedalNameID}
		merged[k] = m
		if _, ok := existingKeys[k]; !ok {
			added++
		}
	}

	rows := make([]domain.MedalAward, 0, len(merged))
	for _, m := range merged {
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MatchID == rows[j].MatchID {
			return rows[i].MedalNameID < rows[j].MedalNameID
		}
		return rows[i].MatchID < rows[j].MatchID
	})

	err := writeParquetFile(path, MedalSchema(), len(rows), func(b *array.RecordBuilder, i int) {
		appendMedalRow(b, rows[i])
	})
	if err != nil {
		return 0, err
	}

	w.logger.Debug().
		Str("partition", key.String()).
		Int("added", added).
		Msg("merged medal partition")
	return added, nil
}
