package warehouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"halo-tracker/internal/constants"
)

// writeParquetFile writes rowCount rows through appendRow into a fresh
// partition file. The write goes to a temp file in the same directory and is
// renamed into place, so concurrent readers only ever see complete files.
func writeParquetFile(path string, schema *arrow.Schema, rowCount int, appendRow func(*array.RecordBuilder, int)) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".data-*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create temp partition file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(true),
		parquet.WithMaxRowGroupLength(constants.ParquetRowGroupSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	w, err := pqarrow.NewFileWriter(schema, tmp, props, arrowProps)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for offset := 0; offset < rowCount; offset += constants.ParquetBatchSize {
		end := offset + constants.ParquetBatchSize
		if end > rowCount {
			end = rowCount
		}
		for i := offset; i < end; i++ {
			appendRow(builder, i)
		}
		rec := builder.NewRecord()
		writeErr := w.Write(rec)
		rec.Release()
		if writeErr != nil {
			w.Close()
			return fmt.Errorf("failed to write record batch: %w", writeErr)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace partition file %s: %w", path, err)
	}
	return nil
}

// readParquetFile streams record batches from one partition file, optionally
// projecting a subset of columns by name.
func readParquetFile(ctx context.Context, path string, columns []string, onRecord func(arrow.Record)) error {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: constants.ParquetBatchSize}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("failed to create arrow reader for %s: %w", path, err)
	}

	var colIndices []int
	if len(columns) > 0 {
		schema, err := fr.Schema()
		if err != nil {
			return fmt.Errorf("failed to read schema of %s: %w", path, err)
		}
		for _, name := range columns {
			indices := schema.FieldIndices(name)
			if len(indices) == 0 {
				return fmt.Errorf("unknown column %q in %s", name, path)
			}
			colIndices = append(colIndices, indices...)
		}
	}

	rr, err := fr.GetRecordReader(ctx, colIndices, nil)
	if err != nil {
		return fmt.Errorf("failed to create record reader for %s: %w", path, err)
	}
	defer rr.Release()

	for rr.Next() {
		onRecord(rr.Record())
	}
	if err := rr.Err(); err != nil {
		return fmt.Errorf("failed to read records from %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// parquetRowCount reads only the footer metadata; rows are never decoded.
func parquetRowCount(path string) (int64, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer rdr.Close()
	return rdr.NumRows(), nil
}
