package validate

import (
	"fmt"
	"strings"

	"github.com/queryforge/queryforge/internal/nlq"
)

// Post classifies raw execution output and builds the terminal response.
type Post struct{}

// Build inspects the executed result against the originating spec. It never
// fails the request outright: a construction panic is recovered and the raw
// result is returned unformatted rather than lost.
func (Post) Build(spec nlq.QuerySpec, result nlq.ExecutionResult, warnings []string) (response nlq.StructuredResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = nlq.StructuredResponse{
				Status:    nlq.StatusPartial,
				ErrorCode: nlq.CodeBuildFailed,
				Message:   fmt.Sprintf("response construction failed: %v; returning raw result", recovered),
				Result:    &result,
				Warnings:  warnings,
			}
		}
	}()

	filters := equalityFilters(spec)

	if result.RowCount == 0 {
		status := nlq.StatusError
		message := "query executed but matched no rows and carried no narrowing filter"
		if len(filters) > 0 {
			// Filtered-but-empty is a legitimate miss; ambiguous-but-empty
			// is treated as an error.
			status = nlq.StatusPartial
			message = fmt.Sprintf("no rows found for %s", describeFilters(filters))
		}
		return nlq.StructuredResponse{
			Status:    status,
			ErrorCode: nlq.CodeNoDataFound,
			Message:   message,
			Result:    &result,
			Warnings:  warnings,
		}
	}

	for _, filter := range filters {
		if rowsContainValue(result.Rows, filter.value) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"parameter %s=%q does not appear in any returned row", filter.name, filter.value))
	}

	if len(warnings) > 0 {
		code := nlq.Code("")
		if len(filters) > 0 && !allFiltersPresent(result.Rows, filters) {
			code = nlq.CodePostValDataInvalid
		}
		return nlq.StructuredResponse{
			Status:    nlq.StatusPartial,
			ErrorCode: code,
			Message:   fmt.Sprintf("query returned %d row(s) with warnings", result.RowCount),
			Result:    &result,
			Warnings:  warnings,
		}
	}

	return nlq.StructuredResponse{
		Status:  nlq.StatusSuccess,
		Message: fmt.Sprintf("query returned %d row(s)", result.RowCount),
		Result:  &result,
	}
}

type filter struct {
	name  string
	value string
}

// equalityFilters lists the supplied non-date parameters, which are expected
// to appear verbatim in result rows.
func equalityFilters(spec nlq.QuerySpec) []filter {
	var filters []filter
	for _, name := range sortedKeys(spec.Params) {
		if strings.HasSuffix(name, "_date") {
			continue
		}
		value, ok := spec.Param(name)
		if !ok {
			continue
		}
		filters = append(filters, filter{name: name, value: value})
	}
	return filters
}

func describeFilters(filters []filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, fmt.Sprintf("%s %q", strings.ReplaceAll(f.name, "_", " "), f.value))
	}
	return strings.Join(parts, ", ")
}

func rowsContainValue(rows []map[string]any, value string) bool {
	for _, row := range rows {
		for _, cell := range row {
			if cell == nil {
				continue
			}
			if fmt.Sprint(cell) == value {
				return true
			}
		}
	}
	return false
}

func allFiltersPresent(rows []map[string]any, filters []filter) bool {
	for _, f := range filters {
		if !rowsContainValue(rows, f.value) {
			return false
		}
	}
	return true
}
