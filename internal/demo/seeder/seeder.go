// Package seeder writes a small deterministic inventory dataset to the object
// store so a fresh environment can answer demo queries immediately.
package seeder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/queryforge/queryforge/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Config struct {
	Dataset    string
	Seed       int64
	Days       int
	RowsPerDay int
	ItemCount  int
	EndDay     time.Time
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = "inventory"
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Days <= 0 {
		c.Days = 14
	}
	if c.RowsPerDay <= 0 {
		c.RowsPerDay = 250
	}
	if c.ItemCount <= 0 {
		c.ItemCount = 40
	}
	if c.EndDay.IsZero() {
		c.EndDay = time.Now().UTC()
	}
	return c
}

type Seeder struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

func New(store storage.ObjectStore, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger}
}

// Run generates the items table plus cfg.Days daily transaction partitions and
// uploads them under the dataset path convention.
func (s *Seeder) Run(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	gen := NewGenerator(cfg.Seed, cfg.ItemCount)

	itemsKey, err := storage.BuildDataFilePath(cfg.Dataset, "items", cfg.EndDay, 0)
	if err != nil {
		return err
	}
	if err := putRows(ctx, s.store, itemsKey, gen.Items()); err != nil {
		return fmt.Errorf("seed items table: %w", err)
	}
	s.logger.Info("seeded items table", slog.String("key", itemsKey), slog.Int("rows", cfg.ItemCount))

	totalRows := 0
	for offset := cfg.Days - 1; offset >= 0; offset-- {
		day := cfg.EndDay.AddDate(0, 0, -offset)
		rows := gen.TransactionsForDay(day, cfg.RowsPerDay)
		key, err := storage.BuildDataFilePath(cfg.Dataset, "transactions", day, 0)
		if err != nil {
			return err
		}
		if err := putRows(ctx, s.store, key, rows); err != nil {
			return fmt.Errorf("seed transactions for %s: %w", day.UTC().Format("2006-01-02"), err)
		}
		totalRows += len(rows)
	}
	s.logger.Info("seeded transactions table",
		slog.Int("days", cfg.Days),
		slog.Int("rows", totalRows),
		slog.String("dataset", cfg.Dataset))
	return nil
}

func putRows[T any](ctx context.Context, store storage.ObjectStore, key string, rows []T) error {
	data, err := encodeParquet(rows)
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: parquetContentType,
	})
	return err
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
