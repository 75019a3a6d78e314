package nlq

import (
	"errors"
	"fmt"
)

// Code identifies a failure class across stage boundaries. Every stage returns
// typed errors; the pipeline coordinator is the only place that maps them into
// a StructuredResponse.
type Code string

const (
	// Pre-validation rejections.
	CodeIntentUnclear       Code = "INTENT_UNCLEAR"
	CodeConfidenceTooLow    Code = "CONFIDENCE_TOO_LOW"
	CodeMissingRequired     Code = "MISSING_REQUIRED_PARAM"
	CodeInvalidParamFormat  Code = "INVALID_PARAM_FORMAT"
	CodeQueryScopeTooLarge  Code = "QUERY_SCOPE_TOO_LARGE"

	// Resolution failures.
	CodeResolverNoIntent     Code = "RESOLVER_NO_INTENT"
	CodeResolverNoBindings   Code = "RESOLVER_NO_BINDINGS"
	CodeResolverParamMissing Code = "RESOLVER_PARAM_MISSING"

	// Generation failures.
	CodeSQLGenFailed     Code = "SQL_GEN_FAILED"
	CodeSQLInvalid       Code = "SQL_INVALID"
	CodeSQLTableNotFound Code = "SQL_TABLE_NOT_FOUND"

	// Connection and execution failures.
	CodeConnDuckDBFailed  Code = "CONN_DUCKDB_FAILED"
	CodeConnTimeout       Code = "CONN_TIMEOUT"
	CodeConnPoolExhausted Code = "CONN_POOL_EXHAUSTED"
	CodeExecSQLFailed     Code = "EXEC_SQL_FAILED"
	CodeExecTimeout       Code = "EXEC_TIMEOUT"
	CodeExecS3Failed      Code = "EXEC_S3_FAILED"

	// Post-execution classifications.
	CodeNoDataFound        Code = "NO_DATA_FOUND"
	CodePostValDataInvalid Code = "POST_VAL_DATA_INVALID"
	CodeBuildFailed        Code = "BUILD_FAILED"

	CodeInternalError Code = "INTERNAL_ERROR"
)

// Error is a coded failure crossing a stage boundary.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded error with a formatted human-readable message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a coded error.
func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the failure code from err, or CodeInternalError when err is
// not a coded error.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternalError
}
