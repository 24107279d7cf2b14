// Package server exposes the repository and the analytical primitives over
// a local JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/middleware"
	"halo-tracker/internal/migration"
	"halo-tracker/internal/repository"
)

type Server struct {
	repo     repository.Repository
	columnar *repository.ColumnarRepository // nil in legacy mode
	migrator *migration.Migrator
	logger   zerolog.Logger
	httpSrv  *http.Server
}

func New(cfg *config.Config, repo repository.Repository, migrator *migration.Migrator, logger zerolog.Logger) *Server {
	s := &Server{
		repo:     repo,
		columnar: columnarOf(repo),
		migrator: migrator,
		logger:   logger,
	}

	handler := middleware.RequestID(logger)(middleware.Recover(logger)(s.routes()))
	handler = cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}).Handler(handler)

	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:     handler,
		ReadTimeout: constants.RequestTimeout,
	}
	return s
}

// columnarOf digs the warehouse-backed repository out of whatever mode the
// factory produced. Legacy mode has none; analytics endpoints then 501.
func columnarOf(repo repository.Repository) *repository.ColumnarRepository {
	switch r := repo.(type) {
	case *repository.ColumnarRepository:
		return r
	case *repository.ShadowRepository:
		return r.Columnar()
	default:
		return nil
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/matches", s.handleMatches)
	mux.HandleFunc("GET /api/matches/range", s.handleMatchesInRange)
	mux.HandleFunc("GET /api/matches/{id}/medals", s.handleMatchMedals)
	mux.HandleFunc("GET /api/medals/top", s.handleTopMedals)
	mux.HandleFunc("GET /api/teammates", s.handleTeammates)
	mux.HandleFunc("GET /api/storage", s.handleStorageInfo)
	mux.HandleFunc("GET /api/sync", s.handleSyncMetadata)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/analytics/trend", s.handleTrend)
	mux.HandleFunc("GET /api/analytics/streaks", s.handleStreaks)
	mux.HandleFunc("GET /api/analytics/peaks", s.handlePeaks)
	mux.HandleFunc("GET /api/analytics/compare", s.handleComparePeriods)
	mux.HandleFunc("GET /api/migration/progress", s.handleMigrationProgress)
	mux.HandleFunc("POST /api/migration/run", s.handleMigrationRun)
	return mux
}

// Start begins serving in the background; ListenAndServe errors other than
// a clean shutdown are logged fatal because the process is useless without
// its API.
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
