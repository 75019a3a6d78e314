// Package duckdb executes statements on an embedded DuckDB instance over
// parquet files staged from object storage. Data files are located by the
// dataset path convention and exposed to the statement as per-table views.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/queryforge/queryforge/internal/exec"
	"github.com/queryforge/queryforge/internal/nlq"
	"github.com/queryforge/queryforge/internal/storage"
)

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) Run(ctx context.Context, req exec.Request) (nlq.ExecutionResult, error) {
	result := nlq.ExecutionResult{SQL: req.SQL}
	if strings.TrimSpace(req.SQL) == "" {
		return result, nlq.NewError(nlq.CodeExecSQLFailed, "sql is required")
	}
	if len(req.Tables) == 0 {
		return result, nlq.NewError(nlq.CodeExecSQLFailed, "no tables to stage for dataset %q", req.Dataset)
	}
	if e.Store == nil {
		return result, nlq.NewError(nlq.CodeExecS3Failed, "object store is not configured")
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "queryforge-exec-")
	if err != nil {
		return result, nlq.WrapError(nlq.CodeExecSQLFailed, err, "create staging dir")
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	staged, err := e.stageTables(ctx, req, workDir)
	if err != nil {
		return result, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return result, nlq.WrapError(nlq.CodeConnDuckDBFailed, err, "open duckdb")
	}
	defer func() { _ = db.Close() }()

	for tableName, localPaths := range staged {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return result, nlq.WrapError(nlq.CodeConnDuckDBFailed, err, "create view for table %q", tableName)
		}
	}

	rows, err := db.QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, nlq.WrapError(nlq.CodeExecSQLFailed, err, "execute statement")
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return result, nlq.WrapError(nlq.CodeExecSQLFailed, err, "read result columns")
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return result, nlq.WrapError(nlq.CodeExecSQLFailed, err, "scan row")
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, nlq.WrapError(nlq.CodeExecSQLFailed, err, "iterate rows")
	}

	result.Columns = columns
	result.Rows = records
	result.RowCount = len(records)
	result.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// stageTables downloads every parquet object for each referenced table into
// the staging dir, grouped by table. Storage failures carry the S3 code so
// callers can tell "data unavailable" apart from "bad query".
func (e *Engine) stageTables(ctx context.Context, req exec.Request, workDir string) (map[string][]string, error) {
	staged := map[string][]string{}
	for _, table := range req.Tables {
		prefix, err := storage.TablePrefix(req.Dataset, table)
		if err != nil {
			return nil, nlq.WrapError(nlq.CodeExecS3Failed, err, "build prefix for table %q", table)
		}
		infos, err := e.Store.List(ctx, prefix)
		if err != nil {
			return nil, nlq.WrapError(nlq.CodeExecS3Failed, err, "list data files for table %q", table)
		}

		sequence := 0
		for _, info := range infos {
			if !strings.HasSuffix(info.Key, ".parquet") {
				continue
			}
			reader, err := e.Store.Get(ctx, info.Key)
			if err != nil {
				return nil, nlq.WrapError(nlq.CodeExecS3Failed, err, "fetch object %q", info.Key)
			}
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table), sequence))
			if err := writeFile(localPath, reader); err != nil {
				_ = reader.Close()
				return nil, nlq.WrapError(nlq.CodeExecS3Failed, err, "stage object %q", info.Key)
			}
			if err := reader.Close(); err != nil {
				return nil, nlq.WrapError(nlq.CodeExecS3Failed, err, "close object %q", info.Key)
			}
			staged[table] = append(staged[table], localPath)
			sequence++
		}
		if len(staged[table]) == 0 {
			return nil, nlq.NewError(nlq.CodeExecS3Failed, "no data files found for table %q in dataset %q", table, req.Dataset)
		}
	}
	return staged, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
