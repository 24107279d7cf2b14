// Package repository exposes the shared capability surface over both
// storage backends. Three implementations satisfy the same interface: the
// legacy blob store, the columnar warehouse, and the shadow composition
// that orchestrates reads during a migration.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"halo-tracker/internal/analytics"
	"halo-tracker/internal/config"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/warehouse"
)

// Repository is the capability contract every backend satisfies. Read
// methods are empty-safe on missing data so callers can probe availability
// without special-casing unmigrated players.
type Repository interface {
	LoadMatches(ctx context.Context, filters domain.MatchFilters) ([]domain.MatchFact, error)
	LoadMatchesInRange(ctx context.Context, start, end time.Time) ([]domain.MatchFact, error)
	GetMatchCount(ctx context.Context) (int64, error)
	LoadTopMedals(ctx context.Context, matchIDs []string, topN int) ([]domain.MedalStat, error)
	LoadMatchMedals(ctx context.Context, matchID string) ([]domain.MedalAward, error)
	ListTopTeammates(ctx context.Context, limit int) ([]domain.Teammate, error)
	GetSyncMetadata(ctx context.Context) (domain.SyncMetadata, error)
	GetStorageInfo(ctx context.Context) (domain.StorageInfo, error)
	IsHybridAvailable(ctx context.Context) bool
	Close() error
}

// ShadowMode selects which backend answers a shadow repository's reads.
// There is no automatic promotion between modes; switching is an external
// operational decision.
type ShadowMode int

const (
	// ShadowRead serves every read from legacy (pre-migration default).
	ShadowRead ShadowMode = iota
	// ShadowCompare serves from legacy while mirroring against columnar
	// and counting divergences, for auditing before cutover.
	ShadowCompare
	// HybridFirst serves from columnar when available, falling back to
	// legacy when the player's partition set is empty (post-cutover).
	HybridFirst
)

func (m ShadowMode) String() string {
	switch m {
	case ShadowCompare:
		return "compare"
	case HybridFirst:
		return "hybrid-first"
	default:
		return "read"
	}
}

func ParseShadowMode(s string) (ShadowMode, error) {
	switch s {
	case "read", "":
		return ShadowRead, nil
	case "compare":
		return ShadowCompare, nil
	case "hybrid-first", "hybrid_first":
		return HybridFirst, nil
	default:
		return ShadowRead, fmt.Errorf("unknown shadow mode %q", s)
	}
}

// Open builds the repository selected by cfg.StorageMode on top of an
// already opened metadata store. The returned repository owns its
// analytical connection (if any); the metadata store stays caller-owned.
func Open(cfg *config.Config, store *metadata.Store, logger zerolog.Logger) (Repository, error) {
	newColumnar := func() *ColumnarRepository {
		reader := warehouse.NewReader(cfg.WarehousePath, logger)
		engine := analytics.NewEngine(store.Path(), cfg.DuckDBMemory, cfg.DuckDBThreads, logger)
		return NewColumnarRepository(cfg.PlayerXUID, reader, engine, store, logger)
	}

	switch cfg.StorageMode {
	case "legacy":
		return NewLegacyRepository(cfg.PlayerXUID, store, logger), nil
	case "hybrid", "columnar":
		return newColumnar(), nil
	case "shadow":
		mode, err := ParseShadowMode(cfg.ShadowMode)
		if err != nil {
			return nil, err
		}
		legacy := NewLegacyRepository(cfg.PlayerXUID, store, logger)
		return NewShadowRepository(legacy, newColumnar(), mode, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}
