package domain

import (
	"time"
)

// Outcome is the closed set of match results reported upstream.
type Outcome int

const (
	OutcomeTie  Outcome = 1
	OutcomeWin  Outcome = 2
	OutcomeLoss Outcome = 3
	// OutcomeDNF is the sentinel for unknown or did-not-finish results.
	OutcomeDNF Outcome = 4
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTie:
		return "tie"
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	default:
		return "dnf"
	}
}

// MatchFact is one player's immutable record of one match. Natural key is
// (MatchID, XUID). Year and Month are derived from StartTime at validation
// time and are never assigned independently.
type MatchFact struct {
	MatchID            string
	XUID               string
	StartTime          time.Time // always UTC
	Year               int32
	Month              int32
	PlaylistAssetID    string
	MapAssetID         string
	GameVariantAssetID string
	Outcome            Outcome
	Rank               int32
	DurationSeconds    *float64 // nil when upstream duration was unparseable
	Kills              int32
	Deaths             int32
	Assists            int32
	Betrayals          int32
	Suicides           int32
	KDA                *float64
	Accuracy           *float64
	ShotsFired         int32
	ShotsHit           int32
	DamageDealt        int32
	DamageTaken        int32
	Score              int32
	TeamID             int32
	MedalCount         int32
}

// MedalAward is an append-only medal grant for one match. A match may award
// the same medal several times, carried in Count; dedup is operational on
// (MatchID, MedalNameID).
type MedalAward struct {
	MatchID     string
	XUID        string
	MedalNameID int64
	Count       int32
	Year        int32
	Month       int32
}

// PlayerProfile is the mutable relational dimension row for a player.
type PlayerProfile struct {
	XUID         string
	Gamertag     string
	ServiceTag   string
	EmblemPath   string
	BackdropPath string
	CareerRank   int
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncStatus values for SyncMetadata.Status.
const (
	SyncStatusIdle      = "idle"
	SyncStatusMigrating = "migrating"
	SyncStatusMigrated  = "migrated"
	SyncStatusError     = "error"
)

// SyncMetadata is the per-player sync bookkeeping row. TotalMatches is the
// source-of-truth count; TotalColumnarRows tracks how many facts have been
// migrated into the warehouse.
type SyncMetadata struct {
	XUID              string
	LastSyncAt        time.Time
	LastMatchID       string
	TotalMatches      int
	TotalColumnarRows int
	Status            string
	ErrorMessage      string
}

// MedalDefinition is a localized medal dimension row.
type MedalDefinition struct {
	NameID        int64
	NameEn        string
	NameFr        string
	DescriptionEn string
	DescriptionFr string
	Difficulty    int
	SpritePath    string
}

// Session is a pre-bucketed play session row. Bucketing itself happens
// upstream; this core only stores the result.
type Session struct {
	SessionID  string // nanoid
	XUID       string
	StartTime  time.Time
	EndTime    time.Time
	MatchCount int
	Wins       int
	Losses     int
	AvgKDA     float64
}

// MatchFilters narrows LoadMatches results. Zero values mean "no constraint".
type MatchFilters struct {
	PlaylistAssetID    string
	MapAssetID         string
	GameVariantAssetID string
	Outcome            Outcome
	Limit              int
}

// Matches reports whether one fact satisfies every set constraint. Limit is
// a result-size bound, not a row predicate, and is ignored here.
func (f MatchFilters) Matches(m MatchFact) bool {
	if f.PlaylistAssetID != "" && m.PlaylistAssetID != f.PlaylistAssetID {
		return false
	}
	if f.MapAssetID != "" && m.MapAssetID != f.MapAssetID {
		return false
	}
	if f.GameVariantAssetID != "" && m.GameVariantAssetID != f.GameVariantAssetID {
		return false
	}
	if f.Outcome != 0 && m.Outcome != f.Outcome {
		return false
	}
	return true
}

// MedalStat is an aggregated medal count across a set of matches.
type MedalStat struct {
	MedalNameID int64
	NameEn      string
	TotalCount  int
}

// Teammate is an aggregated same-team co-occurrence row.
type Teammate struct {
	XUID            string
	Gamertag        string
	MatchesTogether int
	WinsTogether    int
}

// StorageInfo describes which backend answered and what it is sitting on.
type StorageInfo struct {
	Backend            string
	Mode               string
	WarehousePath      string
	PartitionFileCount int
	WarehouseSizeBytes int64
}
