// Package pipeline coordinates one request through pre-validation,
// resolution, execution, and post-validation. It is the only place that maps
// typed stage errors into the terminal structured response: callers always
// receive a well-formed response, never a raw error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/exec"
	"github.com/queryforge/queryforge/internal/nlq"
	"github.com/queryforge/queryforge/internal/observability"
	"github.com/queryforge/queryforge/internal/resolve"
	"github.com/queryforge/queryforge/internal/validate"
)

// TaskTypeStructuredQuery is the only task type the pipeline accepts.
const TaskTypeStructuredQuery = "structured_query"

// Task is the inbound request envelope.
type Task struct {
	TaskID   string   `json:"task_id"`
	TaskType string   `json:"task_type"`
	TaskData TaskData `json:"task_data"`
}

// TaskData carries the structured query spec plus per-request execution
// overrides.
type TaskData struct {
	NLQ        string            `json:"nlq"`
	Intent     string            `json:"intent"`
	Params     map[string]string `json:"params"`
	Confidence float64           `json:"confidence"`
	RowLimit   int               `json:"row_limit,omitempty"`
	TimeoutMS  int               `json:"timeout_ms,omitempty"`
}

// Spec converts the envelope payload into the pipeline's immutable spec.
func (t Task) Spec() nlq.QuerySpec {
	return nlq.QuerySpec{
		NLQ:        t.TaskData.NLQ,
		Intent:     t.TaskData.Intent,
		Params:     t.TaskData.Params,
		Confidence: t.TaskData.Confidence,
	}
}

type Pipeline struct {
	Registry *bindings.Registry
	Resolver *resolve.Resolver
	Executor *exec.Executor
	Dataset  string
	Logger   *slog.Logger

	pre  validate.Pre
	post validate.Post
}

// Run drives the task to a terminal response, publishing one event per stage
// reached to the optional listener.
func (p *Pipeline) Run(ctx context.Context, task Task, listener Listener) nlq.StructuredResponse {
	spec := task.Spec()
	correlationID := uuid.NewString()
	logger := p.logger().With(
		slog.String("task_id", task.TaskID),
		slog.String("correlation_id", correlationID),
		slog.String("intent", spec.Intent),
	)

	listener.emit(StageRequestReceived, "request accepted", map[string]any{
		"task_id": task.TaskID,
		"intent":  spec.Intent,
	})

	if task.TaskType != "" && task.TaskType != TaskTypeStructuredQuery {
		return p.finish(logger, spec, listener, errorResponse(
			nlq.CodeIntentUnclear, fmt.Sprintf("unsupported task type %q", task.TaskType), nil))
	}

	// The snapshot is pinned here; a concurrent reload never affects this
	// request.
	snapshot := p.Registry.Active()

	preStart := time.Now()
	validation := p.pre.Validate(spec, snapshot)
	observability.ObserveStage("pre_validate", time.Since(preStart))
	if !validation.Valid {
		for _, issue := range validation.Errors {
			observability.ObserveValidationRejection(string(issue.Code))
		}
		logger.InfoContext(ctx, "request rejected by pre-validator", slog.Int("errors", len(validation.Errors)))
		return p.finish(logger, spec, listener, errorResponse(
			validation.Errors[0].Code, joinIssues(validation.Errors), nil))
	}

	resolveStart := time.Now()
	outcome, err := p.Resolver.Resolve(ctx, resolve.Request{
		CorrelationID: correlationID,
		TaskID:        task.TaskID,
		Spec:          spec,
		RowLimit:      task.TaskData.RowLimit,
		ForceCap:      len(validation.Warnings) > 0,
	}, snapshot)
	observability.ObserveStage("resolve", time.Since(resolveStart))
	if err != nil {
		logger.ErrorContext(ctx, "resolution failed", slog.Any("error", err))
		return p.finish(logger, spec, listener, responseFromError(err, nil))
	}
	listener.emit(StageSchemaConfirmed, "bindings resolved", map[string]any{
		"table":            outcome.Resolved.Table,
		"bindings_version": snapshot.Version,
	})
	listener.emit(StageSQLGenerated, "statement generated", map[string]any{
		"sql": outcome.Statement.SQL,
	})

	timeout := time.Duration(task.TaskData.TimeoutMS) * time.Millisecond
	listener.emit(StageQueryExecuting, "statement executing", map[string]any{
		"timeout_ms": task.TaskData.TimeoutMS,
	})
	execStart := time.Now()
	result, err := p.Executor.Execute(ctx, exec.Request{
		SQL:     outcome.Statement.SQL,
		Args:    outcome.Statement.Args,
		Dataset: p.Dataset,
		Tables:  referencedTables(outcome.Resolved),
		Timeout: timeout,
	})
	observability.ObserveStage("execute", time.Since(execStart))
	observability.SetPoolInUse(p.Executor.InUse())
	if err != nil {
		switch nlq.CodeOf(err) {
		case nlq.CodeExecTimeout:
			observability.IncrementExecutionTimeout()
		case nlq.CodeConnPoolExhausted:
			observability.IncrementPoolExhaustion()
		}
		logger.ErrorContext(ctx, "execution failed", slog.Any("error", err), slog.String("sql", outcome.Statement.SQL))
		return p.finish(logger, spec, listener, responseFromError(err, &result))
	}
	listener.emit(StageQueryCompleted, "statement completed", map[string]any{
		"row_count":         result.RowCount,
		"execution_time_ms": result.ExecutionTimeMS,
	})

	postStart := time.Now()
	warnings := append(append([]string{}, validation.Warnings...), outcome.Statement.Warnings...)
	response := p.post.Build(spec, result, warnings)
	observability.ObserveStage("post_validate", time.Since(postStart))

	return p.finish(logger, spec, listener, response)
}

func (p *Pipeline) finish(logger *slog.Logger, spec nlq.QuerySpec, listener Listener, response nlq.StructuredResponse) nlq.StructuredResponse {
	observability.ObserveQuery(spec.Intent, string(response.Status))
	if response.Status == nlq.StatusError {
		listener.emit(StageError, response.Message, map[string]any{
			"error_code": response.ErrorCode,
			"message":    response.Message,
		})
	} else {
		listener.emit(StageResultReady, response.Message, response)
	}
	logger.Info("request finished",
		slog.String("status", string(response.Status)),
		slog.String("error_code", string(response.ErrorCode)),
	)
	return response
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// responseFromError maps a typed stage error into the terminal response. The
// coded message is surfaced; wrapped internal detail is logged but never
// leaks to the caller.
func responseFromError(err error, result *nlq.ExecutionResult) nlq.StructuredResponse {
	code := nlq.CodeOf(err)
	message := "internal error"
	var coded *nlq.Error
	if errors.As(err, &coded) {
		message = coded.Message
	}
	return errorResponse(code, message, result)
}

func errorResponse(code nlq.Code, message string, result *nlq.ExecutionResult) nlq.StructuredResponse {
	return nlq.StructuredResponse{
		Status:    nlq.StatusError,
		ErrorCode: code,
		Message:   message,
		Result:    result,
	}
}

func joinIssues(issues []nlq.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.Message)
	}
	return strings.Join(parts, "; ")
}

// referencedTables lists every physical table the statement touches, base
// table first.
func referencedTables(resolved nlq.ResolvedQuery) []string {
	seen := map[string]bool{resolved.Table: true}
	tables := []string{resolved.Table}
	for _, join := range resolved.Joins {
		for _, table := range []string{join.LeftTable, join.RightTable} {
			if table == "" || seen[table] {
				continue
			}
			seen[table] = true
			tables = append(tables, table)
		}
	}
	return tables
}
