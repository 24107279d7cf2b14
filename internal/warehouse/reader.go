package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"

	"halo-tracker/internal/domain"
)

// ReadOptions narrows a partition scan. A non-nil Start/End prunes month
// partitions before any file is opened; Columns projects the decoded fields.
// When a range is set, start_time is read even if Columns omits it.
type ReadOptions struct {
	Start   *time.Time
	End     *time.Time
	Columns []string
}

// Reader scans a player's fact partitions. All read paths treat a missing
// warehouse, table or partition directory as an empty result.
type Reader struct {
	root   string
	logger zerolog.Logger
}

func NewReader(root string, logger zerolog.Logger) *Reader {
	return &Reader{root: root, logger: logger}
}

// Root returns the warehouse root directory.
func (r *Reader) Root() string {
	return r.root
}

// ReadFacts returns the player's facts, pruned and projected per opts,
// ordered by partition month and in-file order (start time ascending).
func (r *Reader) ReadFacts(ctx context.Context, xuid string, opts ReadOptions) ([]domain.MatchFact, error) {
	keys, err := ListPartitions(r.root, TableMatchFacts, xuid)
	if err != nil {
		return nil, err
	}
	keys = PruneRange(keys, opts.Start, opts.End)

	// exact bound filtering below reads StartTime, so a projection that
	// omits it would drop every row
	columns := opts.Columns
	if (opts.Start != nil || opts.End != nil) && len(columns) > 0 {
		found := false
		for _, c := range columns {
			if c == "start_time" {
				found = true
				break
			}
		}
		if !found {
			columns = append(append([]string{}, columns...), "start_time")
		}
	}

	var facts []domain.MatchFact
	for _, key := range keys {
		path := PartitionFile(r.root, TableMatchFacts, key)
		if err := readParquetFile(ctx, path, columns, func(rec arrow.Record) {
			facts = decodeFactRecord(facts, rec)
		}); err != nil {
			return nil, err
		}
	}

	// Partition pruning is month-granular; apply the exact bounds here.
	if opts.Start != nil || opts.End != nil {
		filtered := facts[:0]
		for _, f := range facts {
			if opts.Start != nil && f.StartTime.Before(opts.Start.UTC()) {
				continue
			}
			if opts.End != nil && f.StartTime.After(opts.End.UTC()) {
				continue
			}
			filtered = append(filtered, f)
		}
		facts = filtered
	}

	r.logger.Debug().
		Str("xuid", xuid).
		Int("partitions", len(keys)).
		Int("rows", len(facts)).
		Msg("read fact partitions")
	return facts, nil
}

// ReadMedals returns every medal award stored for the player, optionally
// restricted to a set of match ids.
func (r *Reader) ReadMedals(ctx context.Context, xuid string, matchIDs []string) ([]domain.MedalAward, error) {
	keys, err := ListPartitions(r.root, TableMedals, xuid)
	if err != nil {
		return nil, err
	}

	var medals []domain.MedalAward
	for _, key := range keys {
		path := PartitionFile(r.root, TableMedals, key)
		if err := readParquetFile(ctx, path, nil, func(rec arrow.Record) {
			medals = decodeMedalRecord(medals, rec)
		}); err != nil {
			return nil, err
		}
	}

	if len(matchIDs) > 0 {
		wanted := make(map[string]struct{}, len(matchIDs))
		for _, id := range matchIDs {
			wanted[id] = struct{}{}
		}
		filtered := medals[:0]
		for _, m := range medals {
			if _, ok := wanted[m.MatchID]; ok {
				filtered = append(filtered, m)
			}
		}
		medals = filtered
	}
	return medals, nil
}

// HasData reports whether any fact partition exists for the player without
// opening a single file's data pages.
func (r *Reader) HasData(xuid string) bool {
	keys, err := ListPartitions(r.root, TableMatchFacts, xuid)
	if err != nil {
		return false
	}
	return len(keys) > 0
}

// CountRows sums the per-file footer row counts for the player's fact
// partitions; no row data is decoded.
func (r *Reader) CountRows(xuid string) (int64, error) {
	keys, err := ListPartitions(r.root, TableMatchFacts, xuid)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		n, err := parquetRowCount(PartitionFile(r.root, TableMatchFacts, key))
		if err != nil {
			return 0, fmt.Errorf("failed to count rows in %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

// PartitionFiles lists the data files for a player's table, pruned to the
// given month range. Used to bind analytical scans.
func (r *Reader) PartitionFiles(table, xuid string, start, end *time.Time) ([]string, error) {
	keys, err := ListPartitions(r.root, table, xuid)
	if err != nil {
		return nil, err
	}
	keys = PruneRange(keys, start, end)

	files := make([]string, 0, len(keys))
	for _, key := range keys {
		files = append(files, PartitionFile(r.root, table, key))
	}
	return files, nil
}
