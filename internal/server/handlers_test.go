package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo-tracker/internal/config"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/migration"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/warehouse"
)

const testXUID = "2533274810653829"

func newTestServer(t *testing.T) (*Server, *metadata.Store) {
	t.Helper()
	store, err := metadata.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		SourceDBPath:  store.Path(),
		WarehousePath: t.TempDir(),
		PlayerXUID:    testXUID,
		StorageMode:   "legacy",
		ServerPort:    "0",
	}
	repo, err := repository.Open(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	writer := warehouse.NewWriter(cfg.WarehousePath, zerolog.Nop())
	reader := warehouse.NewReader(cfg.WarehousePath, zerolog.Nop())
	migrator := migration.NewMigrator(testXUID, store, writer, reader, zerolog.Nop())

	return New(cfg, repo, migrator, zerolog.Nop()), store
}

func seedMatch(t *testing.T, store *metadata.Store, id string, start time.Time, playlist string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"match_id":          id,
		"xuid":              testXUID,
		"start_time":        start.Format(time.RFC3339),
		"playlist_asset_id": playlist,
		"outcome":           2,
		"kills":             12,
	})
	require.NoError(t, err)
	_, err = store.DB().Exec(
		`INSERT INTO matches (match_id, xuid, start_time, payload) VALUES (?, ?, ?, ?)`,
		id, testXUID, start, string(payload))
	require.NoError(t, err)
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["hybrid_available"])
}

func TestHandleMatches(t *testing.T) {
	s, store := newTestServer(t)
	for i := 0; i < 5; i++ {
		playlist := "social-slayer"
		if i >= 3 {
			playlist = "ranked-arena"
		}
		seedMatch(t, store, fmt.Sprintf("m-%03d", i),
			time.Date(2024, 3, 10+i, 20, 0, 0, 0, time.UTC), playlist)
	}

	rec, body := get(t, s, "/api/matches")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["count"])

	rec, body = get(t, s, "/api/matches?playlist=ranked-arena")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	matches := body["matches"].([]any)
	first := matches[0].(map[string]any)
	assert.Equal(t, "win", first["outcome"])
	assert.Equal(t, "ranked-arena", first["playlist_asset_id"])
}

func TestHandleMatchesRangeValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := get(t, s, "/api/matches/range?start=bogus&end=2024-04-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, s, "/api/matches/range?start=2024-04-02T00:00:00Z&end=2024-04-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := get(t, s, "/api/matches/range?start=2024-03-01T00:00:00Z&end=2024-04-01T00:00:00Z")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestAnalyticsRequiresColumnar(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/api/analytics/trend")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, body["error"], "hybrid")
}

func TestMigrationProgressEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	seedMatch(t, store, "m-001", time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC), "ranked-arena")

	rec, body := get(t, s, "/api/migration/progress")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["legacy_count"])
	assert.Equal(t, float64(0), body["hybrid_count"])
	assert.Equal(t, false, body["complete"])
}

func TestMigrationRunEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	seedMatch(t, store, "m-001", time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC), "ranked-arena")

	req := httptest.NewRequest(http.MethodPost, "/api/migration/run", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["rows_written"])
	assert.Equal(t, float64(0), body["errors"])

	_, progress := get(t, s, "/api/migration/progress")
	assert.Equal(t, true, progress["complete"])
}
