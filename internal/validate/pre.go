// Package validate guards both ends of the query pipeline: the pre-validator
// rejects malformed or unbounded requests before any SQL exists, and the
// post-validator classifies raw execution output into the structured response.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/nlq"
)

const dateLayout = "2006-01-02"

// maxDateSpan is the widest date range the scope heuristic accepts when no
// narrowing equality filter is present.
const maxDateSpan = 366 * 24 * time.Hour

var formatRules = map[string]*regexp.Regexp{
	"material_id": regexp.MustCompile(`^\d{2}-\d{4,}$`),
	"plant_code":  regexp.MustCompile(`^[A-Z0-9]{2,8}$`),
	"batch_no":    regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`),
}

// Pre is the gatekeeper run before the resolver. Checks append findings
// rather than short-circuiting so the caller sees every problem at once.
type Pre struct{}

// Validate checks spec against the active binding snapshot. An invalid result
// halts the pipeline; the resolver and executor are never invoked.
func (Pre) Validate(spec nlq.QuerySpec, snapshot *bindings.Snapshot) nlq.ValidationResult {
	result := nlq.ValidationResult{Valid: true}

	binding, supported := snapshot.Lookup(spec.Intent)
	if !supported {
		result.AddError(nlq.CodeIntentUnclear, fmt.Sprintf("intent %q is not supported", spec.Intent))
	}

	if spec.Confidence < nlq.MinConfidence {
		result.AddError(nlq.CodeConfidenceTooLow,
			fmt.Sprintf("confidence %.3f is below the %.2f threshold", spec.Confidence, nlq.MinConfidence))
	}

	if supported {
		for _, required := range sortedParams(binding.RequiredParams) {
			if _, ok := spec.Param(required); !ok {
				result.AddError(nlq.CodeMissingRequired, fmt.Sprintf("required parameter %q is missing", required))
			}
		}
	}

	for _, name := range sortedKeys(spec.Params) {
		value, ok := spec.Param(name)
		if !ok {
			continue
		}
		if err := checkFormat(name, value); err != nil {
			result.AddError(nlq.CodeInvalidParamFormat, err.Error())
		}
	}

	if supported {
		checkScope(spec, &result)
		checkJoinSafety(spec, binding, &result)
	}

	return result
}

// checkScope rejects parameter combinations likely to return unbounded rows:
// no equality filter and either no date range or a range wider than a year.
func checkScope(spec nlq.QuerySpec, result *nlq.ValidationResult) {
	if hasEqualityFilter(spec) {
		return
	}
	start, startOK := parseDateParam(spec, "start_date")
	end, endOK := parseDateParam(spec, "end_date")
	if !startOK || !endOK {
		result.AddError(nlq.CodeQueryScopeTooLarge,
			"query has no narrowing filter; supply an identifier or a bounded date range")
		return
	}
	if end.Sub(start) > maxDateSpan {
		result.AddError(nlq.CodeQueryScopeTooLarge,
			fmt.Sprintf("date range %s..%s exceeds the one-year scope limit", start.Format(dateLayout), end.Format(dateLayout)))
	}
}

// checkJoinSafety flags multi-join intents whose request carries fewer
// conditions than joins. This is a warning, not a rejection: the SQL generator
// clamps the row limit for flagged requests instead.
func checkJoinSafety(spec nlq.QuerySpec, binding bindings.Binding, result *nlq.ValidationResult) {
	joins := len(binding.JoinRules)
	if joins <= 1 {
		return
	}
	conditions := 0
	for _, name := range sortedKeys(spec.Params) {
		if _, ok := spec.Param(name); ok {
			conditions++
		}
	}
	if conditions < joins {
		result.AddWarning(fmt.Sprintf(
			"%d-table join carries only %d condition(s); default row cap will be enforced", joins+1, conditions))
	}
}

func checkFormat(name, value string) error {
	if rule, ok := formatRules[name]; ok {
		if !rule.MatchString(value) {
			return fmt.Errorf("parameter %q value %q does not match the expected format", name, value)
		}
		return nil
	}
	if strings.HasSuffix(name, "_date") {
		if _, err := time.Parse(dateLayout, value); err != nil {
			return fmt.Errorf("parameter %q value %q is not a valid date (expected YYYY-MM-DD)", name, value)
		}
	}
	return nil
}

func hasEqualityFilter(spec nlq.QuerySpec) bool {
	for name := range spec.Params {
		if strings.HasSuffix(name, "_date") {
			continue
		}
		if _, ok := spec.Param(name); ok {
			return true
		}
	}
	return false
}

func parseDateParam(spec nlq.QuerySpec, name string) (time.Time, bool) {
	value, ok := spec.Param(name)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func sortedParams(params []string) []string {
	sorted := make([]string, len(params))
	copy(sorted, params)
	sort.Strings(sorted)
	return sorted
}

func sortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
