// Package exec runs generated SQL under a bounded connection pool and a hard
// timeout. The executor performs no retries; connection-level failures are
// surfaced with distinct codes so callers can decide to resubmit.
package exec

import (
	"context"
	"errors"
	"time"

	"github.com/queryforge/queryforge/internal/nlq"
)

// Request is one statement execution against a named dataset.
type Request struct {
	SQL     string
	Args    []any
	Dataset string
	// Tables lists every physical table the statement references; the engine
	// stages data files for each of them.
	Tables  []string
	Timeout time.Duration
}

// Engine executes one statement against staged columnar data. Implementations
// must honor context cancellation promptly: the executor relies on it to
// reclaim the pool slot after a timeout.
type Engine interface {
	Run(ctx context.Context, req Request) (nlq.ExecutionResult, error)
}

type Config struct {
	// PoolSize bounds concurrent executions.
	PoolSize int
	// AcquireTimeout is the short bounded wait for a pool slot before the
	// request fails with CONN_POOL_EXHAUSTED.
	AcquireTimeout time.Duration
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration
}

// Executor is safe for concurrent use; each in-flight request holds exactly
// one pool slot for the duration of its execution.
type Executor struct {
	engine         Engine
	permits        chan struct{}
	acquireTimeout time.Duration
	defaultTimeout time.Duration
}

func New(engine Engine, cfg Config) *Executor {
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}
	acquire := cfg.AcquireTimeout
	if acquire <= 0 {
		acquire = 500 * time.Millisecond
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		engine:         engine,
		permits:        make(chan struct{}, size),
		acquireTimeout: acquire,
		defaultTimeout: timeout,
	}
}

// InUse reports the number of held pool slots.
func (e *Executor) InUse() int {
	return len(e.permits)
}

// Execute acquires a pool slot, runs the statement in a separate worker so a
// hung query cannot block the caller past the timeout, and classifies the
// outcome. The slot is released by the worker, never leaked: the engine's
// context is cancelled on timeout and the worker returns the slot on exit.
func (e *Executor) Execute(ctx context.Context, req Request) (nlq.ExecutionResult, error) {
	select {
	case e.permits <- struct{}{}:
	case <-time.After(e.acquireTimeout):
		return nlq.ExecutionResult{SQL: req.SQL}, nlq.NewError(nlq.CodeConnPoolExhausted,
			"no connection available within %s", e.acquireTimeout)
	case <-ctx.Done():
		return nlq.ExecutionResult{SQL: req.SQL}, nlq.WrapError(nlq.CodeConnTimeout, ctx.Err(),
			"request cancelled while waiting for a connection")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)

	type outcome struct {
		result nlq.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-e.permits }()
		defer cancel()
		result, err := e.engine.Run(runCtx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return out.result, classify(out.err, timeout)
		}
		return out.result, nil
	case <-runCtx.Done():
		// The worker still holds the slot until the engine observes the
		// cancellation; it is returned there, not here.
		res, err := nlq.ExecutionResult{SQL: req.SQL}, error(nil)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = nlq.NewError(nlq.CodeExecTimeout, "execution exceeded %s and was cancelled", timeout)
		} else {
			err = nlq.WrapError(nlq.CodeConnTimeout, runCtx.Err(), "execution cancelled by caller")
		}
		return res, err
	}
}

func classify(err error, timeout time.Duration) error {
	var coded *nlq.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nlq.NewError(nlq.CodeExecTimeout, "execution exceeded %s and was cancelled", timeout)
	}
	return nlq.WrapError(nlq.CodeExecSQLFailed, err, "statement execution failed")
}
