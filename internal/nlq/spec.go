package nlq

import "strings"

// QuerySpec is the structured request handed to the pipeline by the upstream
// caller (or by the intent parser). It is immutable once submitted.
type QuerySpec struct {
	NLQ        string            `json:"nlq"`
	Intent     string            `json:"intent"`
	Params     map[string]string `json:"params"`
	Confidence float64           `json:"confidence"`
}

// MinConfidence is the lowest classifier confidence the pre-validator accepts.
// A spec at exactly this value passes.
const MinConfidence = 0.6

// DefaultRowLimit caps result size when the caller does not request a limit.
// The cap is applied by the SQL generator, not the pre-validator.
const DefaultRowLimit = 1000

// Param returns the named semantic parameter, trimmed of surrounding
// whitespace, and whether it was supplied with a non-empty value.
func (s QuerySpec) Param(name string) (string, bool) {
	value, ok := s.Params[name]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
