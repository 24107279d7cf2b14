package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"halo-tracker/internal/domain"
)

// syncMetaColumns is the allowlist for dynamic partial updates; anything
// else in the field map is rejected before SQL is built.
var syncMetaColumns = map[string]struct{}{
	"last_sync_at":        {},
	"last_match_id":       {},
	"total_matches":       {},
	"total_columnar_rows": {},
	"status":              {},
	"error_message":       {},
}

// GetSyncMetadata returns the player's sync row, or an idle zero row when
// the player has never been synced.
func (s *Store) GetSyncMetadata(ctx context.Context, xuid string) (domain.SyncMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT xuid, last_sync_at, last_match_id, total_matches, total_columnar_rows, status, error_message
		FROM sync_meta WHERE xuid = ?`, xuid)

	var m domain.SyncMetadata
	var lastSync sql.NullTime
	var lastMatch, errMsg sql.NullString
	err := row.Scan(&m.XUID, &lastSync, &lastMatch, &m.TotalMatches, &m.TotalColumnarRows, &m.Status, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncMetadata{XUID: xuid, Status: domain.SyncStatusIdle}, nil
	}
	if err != nil {
		return domain.SyncMetadata{}, fmt.Errorf("failed to read sync_meta for %s: %w", xuid, err)
	}
	m.LastSyncAt = lastSync.Time
	m.LastMatchID = lastMatch.String
	m.ErrorMessage = errMsg.String
	return m, nil
}

// UpdateSyncMetadata writes only the supplied fields; omitted fields are
// left untouched. The row is created on first touch.
func (s *Store) UpdateSyncMetadata(ctx context.Context, xuid string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := syncMetaColumns[col]; !ok {
			return fmt.Errorf("unknown sync_meta column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sync_meta (xuid) VALUES (?)`, xuid); err != nil {
		return fmt.Errorf("failed to ensure sync_meta row for %s: %w", xuid, err)
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, fields[col])
	}
	args = append(args, xuid)

	query := fmt.Sprintf(`UPDATE sync_meta SET %s WHERE xuid = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync_meta for %s: %w", xuid, err)
	}
	return nil
}

// SetMigrationMeta upserts one bookkeeping key for the migration run.
func (s *Store) SetMigrationMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migration_meta (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set migration_meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetMigrationMeta(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM migration_meta WHERE key = ?`, key)
	var value sql.NullString
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read migration_meta %s: %w", key, err)
	}
	return value.String, nil
}
