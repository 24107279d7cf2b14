package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"
)

// ErrEmptyScan signals that the bound partition set has no data. Callers on
// the repository read path translate it into an empty result; it never
// reaches the analytical caller as a query failure.
var ErrEmptyScan = errors.New("analytics: no partitions bound to scan")

// ErrMetaUnavailable signals a query joining metadata tables while no
// metadata store could be attached.
var ErrMetaUnavailable = errors.New("analytics: metadata store not attached")

// Engine owns one reusable in-process DuckDB connection, created lazily and
// configured with a memory ceiling and thread count. Query errors propagate
// unmodified: this is an interactive analytical surface and fast failure
// beats silent empty results.
type Engine struct {
	metaPath    string
	memoryLimit string
	threads     int
	logger      zerolog.Logger

	once         sync.Once
	db           *sql.DB
	initErr      error
	metaAttached bool
}

func NewEngine(metaPath, memoryLimit string, threads int, logger zerolog.Logger) *Engine {
	return &Engine{
		metaPath:    metaPath,
		memoryLimit: memoryLimit,
		threads:     threads,
		logger:      logger,
	}
}

func (e *Engine) conn() (*sql.DB, error) {
	e.once.Do(func() {
		db, err := sql.Open("duckdb", "")
		if err != nil {
			e.initErr = fmt.Errorf("failed to open duckdb: %w", err)
			return
		}

		for _, pragma := range []string{
			fmt.Sprintf("SET memory_limit = '%s'", e.memoryLimit),
			fmt.Sprintf("SET threads = %d", e.threads),
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				e.initErr = fmt.Errorf("failed to configure duckdb (%s): %w", pragma, err)
				return
			}
		}

		e.db = db
		e.attachMetadata()
		e.logger.Debug().
			Str("memory_limit", e.memoryLimit).
			Int("threads", e.threads).
			Bool("meta_attached", e.metaAttached).
			Msg("analytical connection opened")
	})
	return e.db, e.initErr
}

// attachMetadata attaches the SQLite store read-only when the file exists.
// Attach failure downgrades metadata joins rather than breaking every scan.
func (e *Engine) attachMetadata() {
	if e.metaPath == "" {
		return
	}
	if _, err := os.Stat(e.metaPath); err != nil {
		e.logger.Debug().Str("path", e.metaPath).Msg("metadata store absent, skipping attach")
		return
	}

	attach := fmt.Sprintf("ATTACH %s AS meta (TYPE sqlite, READ_ONLY)", quotePath(e.metaPath))
	if _, err := e.db.Exec(attach); err != nil {
		e.logger.Warn().Err(err).Str("path", e.metaPath).Msg("failed to attach metadata store")
		return
	}
	e.metaAttached = true
}

// MetaAttached reports whether metadata joins are available.
func (e *Engine) MetaAttached() bool {
	if _, err := e.conn(); err != nil {
		return false
	}
	return e.metaAttached
}

// Query builds and executes a bound query. An empty bound scan returns
// ErrEmptyScan before the engine is even touched.
func (e *Engine) Query(ctx context.Context, q *Query, args ...any) (*sql.Rows, error) {
	if q.HasEmptyScan() {
		return nil, ErrEmptyScan
	}

	db, err := e.conn()
	if err != nil {
		return nil, err
	}
	if q.requiresMeta() && !e.metaAttached {
		return nil, ErrMetaUnavailable
	}

	text, err := q.Build()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("analytical query failed: %w", err)
	}
	return rows, nil
}

// QueryValue executes a bound query expected to yield a single scalar.
func (e *Engine) QueryValue(ctx context.Context, q *Query, dest any, args ...any) error {
	rows, err := e.Query(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dest); err != nil {
		return err
	}
	return rows.Err()
}

func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}
