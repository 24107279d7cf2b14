// Package fact normalizes raw heterogeneous match payloads into typed,
// partition-annotated records. Parsing is pure: no I/O, no mutation of the
// input map.
package fact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"halo-tracker/internal/domain"
)

// ValidationError marks a record whose required fields are missing or
// unparseable. Callers log and skip the record; optional fields never
// produce one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	xuidWrapperRe = regexp.MustCompile(`(?i)^xuid\((\d+)\)$`)
	digitsRe      = regexp.MustCompile(`^\d+$`)
	isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)
)

// ParseXUID accepts a bare digit string, a "xuid(123)" wrapper, or an object
// exposing a Xuid/xuid field. Anything else yields "", and the caller decides
// whether an unresolvable id is fatal.
func ParseXUID(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if digitsRe.MatchString(s) {
			return s
		}
		if m := xuidWrapperRe.FindStringSubmatch(s); m != nil {
			return m[1]
		}
		return ""
	case map[string]any:
		if inner, ok := t["Xuid"]; ok {
			return ParseXUID(inner)
		}
		if inner, ok := t["xuid"]; ok {
			return ParseXUID(inner)
		}
		return ""
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// timestamp layouts in probe order; zone-less layouts are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 with or without an explicit zone suffix
// and normalizes the result to UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// ParseDuration accepts a raw numeric (seconds), an object carrying
// Seconds/Milliseconds/Ms, or an ISO-8601 PT#H#M#S string. Unparseable
// durations resolve to nil, never an error.
func ParseDuration(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case map[string]any:
		for _, key := range []string{"Seconds", "seconds"} {
			if inner, ok := t[key]; ok {
				return ParseDuration(inner)
			}
		}
		for _, key := range []string{"Milliseconds", "Ms", "ms"} {
			if inner, ok := t[key]; ok {
				if ms := ParseDuration(inner); ms != nil {
					s := *ms / 1000.0
					return &s
				}
				return nil
			}
		}
		return nil
	case string:
		return parseISODuration(t)
	default:
		return nil
	}
}

func parseISODuration(s string) *float64 {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return nil
	}
	var total float64
	if m[1] != "" {
		h, _ := strconv.ParseFloat(m[1], 64)
		total += h * 3600
	}
	if m[2] != "" {
		min, _ := strconv.ParseFloat(m[2], 64)
		total += min * 60
	}
	if m[3] != "" {
		sec, _ := strconv.ParseFloat(m[3], 64)
		total += sec
	}
	return &total
}

// ParseOutcome coerces an integer-coercible value into the closed outcome
// enumeration, defaulting to did-not-finish rather than failing.
func ParseOutcome(v any) domain.Outcome {
	n, ok := coerceInt(v)
	if !ok {
		return domain.OutcomeDNF
	}
	switch domain.Outcome(n) {
	case domain.OutcomeTie, domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeDNF:
		return domain.Outcome(n)
	default:
		return domain.OutcomeDNF
	}
}

func coerceInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// field returns the first present key from the raw map.
func field(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func intField(raw map[string]any, keys ...string) int32 {
	if v, ok := field(raw, keys...); ok {
		if n, ok := coerceInt(v); ok {
			return int32(n)
		}
	}
	return 0
}

func floatField(raw map[string]any, keys ...string) *float64 {
	if v, ok := field(raw, keys...); ok {
		if f, ok := coerceFloat(v); ok {
			return &f
		}
	}
	return nil
}

func stringField(raw map[string]any, keys ...string) string {
	if v, ok := field(raw, keys...); ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Partition derives the partition columns from a fact's start time. The
// partition key is a pure function of start time; nothing else may set it.
func Partition(start time.Time) (year, month int32) {
	utc := start.UTC()
	return int32(utc.Year()), int32(utc.Month())
}

// Validate converts one raw match payload into an immutable MatchFact.
// Required fields are match_id, xuid and start_time; everything else
// degrades to zero values or nil instead of rejecting the record.
func Validate(raw map[string]any) (domain.MatchFact, error) {
	matchID := stringField(raw, "match_id", "MatchId")
	if matchID == "" {
		return domain.MatchFact{}, &ValidationError{Field: "match_id", Reason: "missing"}
	}

	xuidRaw, ok := field(raw, "xuid", "player", "Player")
	if !ok {
		return domain.MatchFact{}, &ValidationError{Field: "xuid", Reason: "missing"}
	}
	xuid := ParseXUID(xuidRaw)
	if xuid == "" {
		return domain.MatchFact{}, &ValidationError{Field: "xuid", Reason: fmt.Sprintf("unresolvable value %v", xuidRaw)}
	}

	startRaw, ok := field(raw, "start_time", "StartTime")
	if !ok {
		return domain.MatchFact{}, &ValidationError{Field: "start_time", Reason: "missing"}
	}
	start, err := ParseTimestamp(startRaw)
	if err != nil {
		return domain.MatchFact{}, &ValidationError{Field: "start_time", Reason: err.Error()}
	}

	year, month := Partition(start)

	f := domain.MatchFact{
		MatchID:            matchID,
		XUID:               xuid,
		StartTime:          start,
		Year:               year,
		Month:              month,
		PlaylistAssetID:    stringField(raw, "playlist_asset_id", "PlaylistAssetId"),
		MapAssetID:         stringField(raw, "map_asset_id", "MapAssetId"),
		GameVariantAssetID: stringField(raw, "game_variant_asset_id", "GameVariantAssetId"),
		Rank:               intField(raw, "rank", "Rank"),
		Kills:              intField(raw, "kills", "Kills"),
		Deaths:             intField(raw, "deaths", "Deaths"),
		Assists:            intField(raw, "assists", "Assists"),
		Betrayals:          intField(raw, "betrayals", "Betrayals"),
		Suicides:           intField(raw, "suicides", "Suicides"),
		KDA:                floatField(raw, "kda", "KDA"),
		Accuracy:           floatField(raw, "accuracy", "Accuracy"),
		ShotsFired:         intField(raw, "shots_fired", "ShotsFired"),
		ShotsHit:           intField(raw, "shots_hit", "ShotsHit"),
		DamageDealt:        intField(raw, "damage_dealt", "DamageDealt"),
		DamageTaken:        intField(raw, "damage_taken", "DamageTaken"),
		Score:              intField(raw, "score", "Score"),
		TeamID:             intField(raw, "team_id", "TeamId"),
		MedalCount:         intField(raw, "medal_count", "MedalCount"),
	}

	if v, ok := field(raw, "outcome", "Outcome"); ok {
		f.Outcome = ParseOutcome(v)
	} else {
		f.Outcome = domain.OutcomeDNF
	}

	if v, ok := field(raw, "duration", "Duration"); ok {
		f.DurationSeconds = ParseDuration(v)
	}

	return f, nil
}

// ValidateMedal converts one raw medal payload into a MedalAward carrying the
// same partition columns as its match.
func ValidateMedal(raw map[string]any) (domain.MedalAward, error) {
	matchID := stringField(raw, "match_id", "MatchId")
	if matchID == "" {
		return domain.MedalAward{}, &ValidationError{Field: "match_id", Reason: "missing"}
	}

	xuidRaw, ok := field(raw, "xuid", "player", "Player")
	if !ok {
		return domain.MedalAward{}, &ValidationError{Field: "xuid", Reason: "missing"}
	}
	xuid := ParseXUID(xuidRaw)
	if xuid == "" {
		return domain.MedalAward{}, &ValidationError{Field: "xuid", Reason: "unresolvable"}
	}

	nameID, ok := field(raw, "name_id", "NameId", "medal_name_id")
	if !ok {
		return domain.MedalAward{}, &ValidationError{Field: "name_id", Reason: "missing"}
	}
	id, idOK := coerceInt(nameID)
	if !idOK {
		return domain.MedalAward{}, &ValidationError{Field: "name_id", Reason: "not an integer"}
	}

	startRaw, ok := field(raw, "start_time", "StartTime")
	if !ok {
		return domain.MedalAward{}, &ValidationError{Field: "start_time", Reason: "missing"}
	}
	start, err := ParseTimestamp(startRaw)
	if err != nil {
		return domain.MedalAward{}, &ValidationError{Field: "start_time", Reason: err.Error()}
	}
	year, month := Partition(start)

	count := intField(raw, "count", "Count")
	if count <= 0 {
		count = 1
	}

	return domain.MedalAward{
		MatchID:     matchID,
		XUID:        xuid,
		MedalNameID: id,
		Count:       count,
		Year:        year,
		Month:       month,
	}, nil
}
