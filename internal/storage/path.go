package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// TablePrefix is the path convention scoping every parquet file belonging to
// one table of a dataset: <dataset>/<table>/.
func TablePrefix(dataset, table string) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(dataset, table) + "/", nil
}

// BuildDataFilePath places one partitioned data file under the table prefix.
func BuildDataFilePath(dataset, table string, day time.Time, sequence int) (string, error) {
	prefix, err := TablePrefix(dataset, table)
	if err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	ts := day.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("part-%05d.parquet", sequence),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
