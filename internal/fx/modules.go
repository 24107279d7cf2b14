package fx

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"halo-tracker/internal/config"
	"halo-tracker/internal/logger"
	"halo-tracker/internal/metadata"
	"halo-tracker/internal/migration"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/server"
	"halo-tracker/internal/warehouse"
)

// ApplyLogLevel lowers or raises the global level once config is loaded;
// startup lines before that come out at the default info level.
func ApplyLogLevel(cfg *config.Config) {
	if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && parsed != zerolog.NoLevel {
		zerolog.SetGlobalLevel(parsed)
	}
}

func ProvideStore(cfg *config.Config, logger zerolog.Logger) (*metadata.Store, error) {
	return metadata.Open(cfg.SourceDBPath, logger)
}

func ProvideWriter(cfg *config.Config, logger zerolog.Logger) *warehouse.Writer {
	return warehouse.NewWriter(cfg.WarehousePath, logger)
}

func ProvideReader(cfg *config.Config, logger zerolog.Logger) *warehouse.Reader {
	return warehouse.NewReader(cfg.WarehousePath, logger)
}

func ProvideRepository(cfg *config.Config, store *metadata.Store, logger zerolog.Logger) (repository.Repository, error) {
	return repository.Open(cfg, store, logger)
}

func ProvideMigrator(cfg *config.Config, store *metadata.Store, writer *warehouse.Writer, reader *warehouse.Reader, logger zerolog.Logger) *migration.Migrator {
	return migration.NewMigrator(cfg.PlayerXUID, store, writer, reader, logger)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	// storage
	fx.Provide(ProvideStore),
	fx.Provide(ProvideWriter),
	fx.Provide(ProvideReader),
	fx.Provide(ProvideRepository),
	// migration
	fx.Provide(ProvideMigrator),
	// server
	fx.Provide(server.New),
	fx.Invoke(ApplyLogLevel),
)
