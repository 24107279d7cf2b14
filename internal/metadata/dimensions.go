package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"halo-tracker/internal/domain"
)

// UpsertPlayer writes a player profile with coalescing conflict resolution:
// new non-null values overwrite, unknown values never erase known ones.
func (s *Store) UpsertPlayer(ctx context.Context, p domain.PlayerProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (xuid, gamertag, service_tag, emblem_path, backdrop_path, career_rank, last_seen_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), ?)
		ON CONFLICT (xuid) DO UPDATE SET
			gamertag      = COALESCE(excluded.gamertag, players.gamertag),
			service_tag   = COALESCE(excluded.service_tag, players.service_tag),
			emblem_path   = COALESCE(excluded.emblem_path, players.emblem_path),
			backdrop_path = COALESCE(excluded.backdrop_path, players.backdrop_path),
			career_rank   = COALESCE(excluded.career_rank, players.career_rank),
			last_seen_at  = COALESCE(excluded.last_seen_at, players.last_seen_at),
			updated_at    = CURRENT_TIMESTAMP`,
		p.XUID, p.Gamertag, p.ServiceTag, p.EmblemPath, p.BackdropPath, p.CareerRank, nullTime(p.LastSeenAt))
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", p.XUID, err)
	}
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, xuid string) (*domain.PlayerProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT xuid, gamertag, service_tag, emblem_path, backdrop_path, career_rank, last_seen_at, created_at, updated_at
		FROM players WHERE xuid = ?`, xuid)

	var p domain.PlayerProfile
	var gamertag, serviceTag, emblem, backdrop sql.NullString
	var careerRank sql.NullInt64
	var lastSeen sql.NullTime
	if err := row.Scan(&p.XUID, &gamertag, &serviceTag, &emblem, &backdrop, &careerRank, &lastSeen, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Gamertag = gamertag.String
	p.ServiceTag = serviceTag.String
	p.EmblemPath = emblem.String
	p.BackdropPath = backdrop.String
	p.CareerRank = int(careerRank.Int64)
	p.LastSeenAt = lastSeen.Time
	return &p, nil
}

// GetGamertags resolves gamertags for a set of xuids; unknown xuids are
// simply absent from the result.
func (s *Store) GetGamertags(ctx context.Context, xuids []string) (map[string]string, error) {
	if len(xuids) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(xuids)), ",")
	args := make([]any, len(xuids))
	for i, x := range xuids {
		args[i] = x
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT xuid, gamertag FROM players WHERE xuid IN (%s) AND gamertag IS NOT NULL`, placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gamertags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var xuid, gamertag string
		if err := rows.Scan(&xuid, &gamertag); err != nil {
			return nil, err
		}
		out[xuid] = gamertag
	}
	return out, rows.Err()
}

// Asset dimension rows share one shape across playlists, maps and variants;
// raw_payload keeps the upstream document for forward compatibility.
type Asset struct {
	AssetID    string
	VersionID  string
	PublicName string
	RawPayload string
}

func (s *Store) UpsertPlaylist(ctx context.Context, a Asset) error {
	return s.upsertAsset(ctx, "playlists", a)
}

func (s *Store) UpsertMap(ctx context.Context, a Asset) error {
	return s.upsertAsset(ctx, "maps", a)
}

func (s *Store) UpsertGameVariant(ctx context.Context, a Asset) error {
	return s.upsertAsset(ctx, "game_variants", a)
}

func (s *Store) upsertAsset(ctx context.Context, table string, a Asset) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (asset_id, version_id, public_name, raw_payload)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))
		ON CONFLICT (asset_id) DO UPDATE SET
			version_id  = COALESCE(excluded.version_id, %s.version_id),
			public_name = COALESCE(excluded.public_name, %s.public_name),
			raw_payload = COALESCE(excluded.raw_payload, %s.raw_payload),
			updated_at  = CURRENT_TIMESTAMP`, table, table, table, table),
		a.AssetID, a.VersionID, a.PublicName, a.RawPayload)
	if err != nil {
		return fmt.Errorf("failed to upsert %s row %s: %w", table, a.AssetID, err)
	}
	return nil
}

func (s *Store) AddFriend(ctx context.Context, ownerID, friendID, gamertag string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friends (owner_id, friend_id, gamertag)
		VALUES (?, ?, NULLIF(?, ''))
		ON CONFLICT (owner_id, friend_id) DO UPDATE SET
			gamertag = COALESCE(excluded.gamertag, friends.gamertag)`,
		ownerID, friendID, gamertag)
	if err != nil {
		return fmt.Errorf("failed to add friend %s: %w", friendID, err)
	}
	return nil
}

func (s *Store) ListFriends(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT friend_id FROM friends WHERE owner_id = ? ORDER BY friend_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// UpsertSession stores one pre-bucketed play session, generating a session
// id when the caller did not supply one.
func (s *Store) UpsertSession(ctx context.Context, sess domain.Session) (string, error) {
	if sess.SessionID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate nanoid: %w", err)
		}
		sess.SessionID = id
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, xuid, start_time, end_time, match_count, wins, losses, avg_kda)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			start_time  = excluded.start_time,
			end_time    = excluded.end_time,
			match_count = excluded.match_count,
			wins        = excluded.wins,
			losses      = excluded.losses,
			avg_kda     = excluded.avg_kda`,
		sess.SessionID, sess.XUID, sess.StartTime.UTC(), sess.EndTime.UTC(),
		sess.MatchCount, sess.Wins, sess.Losses, sess.AvgKDA)
	if err != nil {
		return "", fmt.Errorf("failed to upsert session: %w", err)
	}
	return sess.SessionID, nil
}

func (s *Store) UpsertMedalDefinition(ctx context.Context, d domain.MedalDefinition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medal_definitions (name_id, name_en, name_fr, description_en, description_fr, difficulty, sprite_path)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, ''))
		ON CONFLICT (name_id) DO UPDATE SET
			name_en        = COALESCE(excluded.name_en, medal_definitions.name_en),
			name_fr        = COALESCE(excluded.name_fr, medal_definitions.name_fr),
			description_en = COALESCE(excluded.description_en, medal_definitions.description_en),
			description_fr = COALESCE(excluded.description_fr, medal_definitions.description_fr),
			difficulty     = COALESCE(excluded.difficulty, medal_definitions.difficulty),
			sprite_path    = COALESCE(excluded.sprite_path, medal_definitions.sprite_path)`,
		d.NameID, d.NameEn, d.NameFr, d.DescriptionEn, d.DescriptionFr, d.Difficulty, d.SpritePath)
	if err != nil {
		return fmt.Errorf("failed to upsert medal definition %d: %w", d.NameID, err)
	}
	return nil
}

func (s *Store) GetMedalDefinitions(ctx context.Context, nameIDs []int64) (map[int64]domain.MedalDefinition, error) {
	if len(nameIDs) == 0 {
		return map[int64]domain.MedalDefinition{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nameIDs)), ",")
	args := make([]any, len(nameIDs))
	for i, id := range nameIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT name_id, name_en, name_fr, description_en, description_fr, difficulty, sprite_path
			FROM medal_definitions WHERE name_id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query medal definitions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.MedalDefinition)
	for rows.Next() {
		var d domain.MedalDefinition
		var nameEn, nameFr, descEn, descFr, sprite sql.NullString
		var difficulty sql.NullInt64
		if err := rows.Scan(&d.NameID, &nameEn, &nameFr, &descEn, &descFr, &difficulty, &sprite); err != nil {
			return nil, err
		}
		d.NameEn = nameEn.String
		d.NameFr = nameFr.String
		d.DescriptionEn = descEn.String
		d.DescriptionFr = descFr.String
		d.Difficulty = int(difficulty.Int64)
		d.SpritePath = sprite.String
		out[d.NameID] = d
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
