package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	QueryTimeout    = 30 * time.Second
	RequestTimeout  = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	// ParquetRowGroupSize bounds rows per row group; smaller groups cut
	// read amplification for the month-sized partitions we write.
	ParquetRowGroupSize = 8192
	ParquetBatchSize    = 1024
)

const (
	DuckDBMemoryLimit = "1GB"
	DuckDBThreads     = 4
)

const (
	DefaultTopMedals    = 10
	DefaultTopTeammates = 10
	TrailingWindowSize  = 10
)

const (
	ShutdownTimeout = 5 * time.Second
)
