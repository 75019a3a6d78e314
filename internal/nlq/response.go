package nlq

// Status classifies the terminal outcome of one request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Issue is one validation finding with a machine-readable code.
type Issue struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects every finding of a validator so the caller sees
// all problems at once rather than the first.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddError appends a finding and marks the result invalid.
func (r *ValidationResult) AddError(code Code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, Issue{Code: code, Message: message})
}

// AddWarning appends a non-fatal finding.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// ExecutionResult is the raw output of one statement execution. The SQL string
// is echoed back verbatim for audit and replay regardless of outcome.
type ExecutionResult struct {
	SQL             string           `json:"sql"`
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"data"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
}

// StructuredResponse is the terminal artifact of the pipeline. A response with
// StatusSuccess always carries a non-nil Result.
type StructuredResponse struct {
	Status    Status           `json:"status"`
	ErrorCode Code             `json:"error_code,omitempty"`
	Message   string           `json:"message"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}
