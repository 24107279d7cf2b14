// Package warehouse implements the partitioned Parquet store. Layout is
// <root>/<table>/player=<xuid>/year=<yyyy>/month=<mm>/data.parquet with one
// file per partition cell; writes are merge-on-write per partition and reads
// prune partitions by month range.
package warehouse

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	TableMatchFacts = "match_facts"
	TableMedals     = "medals"

	dataFileName = "data.parquet"
)

// PartitionKey identifies one partition cell.
type PartitionKey struct {
	XUID  string
	Year  int32
	Month int32
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("player=%s/year=%04d/month=%02d", k.XUID, k.Year, k.Month)
}

// monthIndex linearizes (year, month) so range pruning is a simple
// interval check.
func monthIndex(year, month int32) int32 {
	return year*12 + month - 1
}

func partitionDir(root, table string, key PartitionKey) string {
	return filepath.Join(root, table,
		fmt.Sprintf("player=%s", key.XUID),
		fmt.Sprintf("year=%04d", key.Year),
		fmt.Sprintf("month=%02d", key.Month))
}

// PartitionFile returns the data file path for one partition cell.
func PartitionFile(root, table string, key PartitionKey) string {
	return filepath.Join(partitionDir(root, table, key), dataFileName)
}

// GlobAllPlayers is the scan pattern covering every player's partitions for
// a table. Used for cross-player joins such as teammate detection.
func GlobAllPlayers(root, table string) string {
	return filepath.Join(root, table, "player=*", "year=*", "month=*", dataFileName)
}

func parsePartitionValue(name, prefix string) (int32, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// ListPartitions walks a player's partition tree and returns the keys that
// have a data file, sorted chronologically. A missing directory is an empty
// result, not an error.
func ListPartitions(root, table, xuid string) ([]PartitionKey, error) {
	playerDir := filepath.Join(root, table, fmt.Sprintf("player=%s", xuid))
	yearEntries, err := os.ReadDir(playerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list partitions under %s: %w", playerDir, err)
	}

	var keys []PartitionKey
	for _, ye := range yearEntries {
		if !ye.IsDir() {
			continue
		}
		year, ok := parsePartitionValue(ye.Name(), "year=")
		if !ok {
			continue
		}
		monthEntries, err := os.ReadDir(filepath.Join(playerDir, ye.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list months under %s: %w", ye.Name(), err)
		}
		for _, me := range monthEntries {
			if !me.IsDir() {
				continue
			}
			month, ok := parsePartitionValue(me.Name(), "month=")
			if !ok {
				continue
			}
			key := PartitionKey{XUID: xuid, Year: year, Month: month}
			if _, err := os.Stat(PartitionFile(root, table, key)); err == nil {
				keys = append(keys, key)
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		return monthIndex(keys[i].Year, keys[i].Month) < monthIndex(keys[j].Year, keys[j].Month)
	})
	return keys, nil
}

// PruneRange drops partitions whose month does not intersect [start, end].
// Nil bounds leave that side open.
func PruneRange(keys []PartitionKey, start, end *time.Time) []PartitionKey {
	var out []PartitionKey
	for _, k := range keys {
		idx := monthIndex(k.Year, k.Month)
		if start != nil {
			s := start.UTC()
			if idx < monthIndex(int32(s.Year()), int32(s.Month())) {
				continue
			}
		}
		if end != nil {
			e := end.UTC()
			if idx > monthIndex(int32(e.Year()), int32(e.Month())) {
				continue
			}
		}
		out = append(out, k)
	}
	return out
}
