package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	SourceDBPath  string
	WarehousePath string
	PlayerXUID    string
	StorageMode   string // legacy | hybrid | shadow
	ShadowMode    string // read | compare | hybrid-first
	ServerPort    string
	LogLevel      string
	DuckDBMemory  string
	DuckDBThreads int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		SourceDBPath:  getEnv("SOURCE_DB_PATH", "halo.db"),
		WarehousePath: getEnv("WAREHOUSE_PATH", ""),
		PlayerXUID:    getEnv("PLAYER_XUID", ""),
		StorageMode:   getEnv("STORAGE_MODE", "legacy"),
		ShadowMode:    getEnv("SHADOW_MODE", "read"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DuckDBMemory:  getEnv("DUCKDB_MEMORY_LIMIT", "1GB"),
		DuckDBThreads: getEnvInt("DUCKDB_THREADS", 4),
	}

	// Warehouse defaults to a sibling of the source database.
	if cfg.WarehousePath == "" {
		cfg.WarehousePath = filepath.Join(filepath.Dir(cfg.SourceDBPath), "warehouse")
	}

	if cfg.PlayerXUID == "" {
		return nil, fmt.Errorf("PLAYER_XUID is required")
	}

	switch cfg.StorageMode {
	case "legacy", "hybrid", "shadow":
	default:
		return nil, fmt.Errorf("invalid STORAGE_MODE %q (want legacy, hybrid or shadow)", cfg.StorageMode)
	}

	logger.Info().
		Str("source_db", cfg.SourceDBPath).
		Str("warehouse_path", cfg.WarehousePath).
		Str("player_xuid", cfg.PlayerXUID).
		Str("storage_mode", cfg.StorageMode).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
