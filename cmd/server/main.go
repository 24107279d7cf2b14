package main

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"halo-tracker/internal/constants"
	fxmodules "halo-tracker/internal/fx"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/server"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	srv *server.Server,
	repo repository.Repository,
	store *metadata.Store,
	logger zerolog.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			if err := repo.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing repository")
			}
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing metadata store")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
