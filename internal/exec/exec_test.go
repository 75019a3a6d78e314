package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/queryforge/queryforge/internal/nlq"
)

type stubEngine struct {
	mu     sync.Mutex
	result nlq.ExecutionResult
	err    error
	// delay holds the run until the context expires when set.
	delay time.Duration
	runs  int
}

func (s *stubEngine) Run(ctx context.Context, req Request) (nlq.ExecutionResult, error) {
	s.mu.Lock()
	s.runs++
	delay, result, err := s.delay, s.result, s.err
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nlq.ExecutionResult{SQL: req.SQL}, ctx.Err()
		}
	}
	return result, err
}

func (s *stubEngine) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func TestExecuteSuccess(t *testing.T) {
	engine := &stubEngine{result: nlq.ExecutionResult{
		SQL:      "SELECT 1",
		RowCount: 1,
		Rows:     []map[string]any{{"n": int64(1)}},
	}}
	executor := New(engine, Config{PoolSize: 2})

	result, err := executor.Execute(context.Background(), Request{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("row count = %d, want 1", result.RowCount)
	}
	if executor.InUse() != 0 {
		t.Fatalf("in-use slots = %d, want 0 after completion", executor.InUse())
	}
}

func TestExecuteTimeoutReturnsSlotToPool(t *testing.T) {
	engine := &stubEngine{delay: 5 * time.Second}
	executor := New(engine, Config{PoolSize: 1, AcquireTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := executor.Execute(context.Background(), Request{
		SQL:     "SELECT pg_sleep(10)",
		Timeout: 30 * time.Millisecond,
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("caller blocked for %s past the timeout", elapsed)
	}
	if code := nlq.CodeOf(err); code != nlq.CodeExecTimeout {
		t.Fatalf("code = %s, want %s", code, nlq.CodeExecTimeout)
	}

	// The worker observes the cancellation and returns the slot; a follow-up
	// request must be able to acquire it.
	deadline := time.Now().Add(2 * time.Second)
	for executor.InUse() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pool slot leaked: in-use = %d", executor.InUse())
		}
		time.Sleep(5 * time.Millisecond)
	}

	engine.mu.Lock()
	engine.delay = 0
	engine.result = nlq.ExecutionResult{RowCount: 1}
	engine.mu.Unlock()
	if _, err := executor.Execute(context.Background(), Request{SQL: "SELECT 1"}); err != nil {
		t.Fatalf("follow-up execute after timeout: %v", err)
	}
}

func TestExecutePoolExhausted(t *testing.T) {
	engine := &stubEngine{delay: time.Second}
	executor := New(engine, Config{PoolSize: 1, AcquireTimeout: 30 * time.Millisecond, DefaultTimeout: 2 * time.Second})

	release := make(chan struct{})
	go func() {
		defer close(release)
		_, _ = executor.Execute(context.Background(), Request{SQL: "SELECT slow"})
	}()

	// Wait for the first request to hold the only slot.
	deadline := time.Now().Add(time.Second)
	for executor.InUse() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never acquired the slot")
		}
		time.Sleep(2 * time.Millisecond)
	}

	_, err := executor.Execute(context.Background(), Request{SQL: "SELECT 1"})
	if code := nlq.CodeOf(err); code != nlq.CodeConnPoolExhausted {
		t.Fatalf("code = %s, want %s", code, nlq.CodeConnPoolExhausted)
	}
	<-release
}

func TestExecuteCallerCancellation(t *testing.T) {
	engine := &stubEngine{delay: time.Second}
	executor := New(engine, Config{PoolSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Execute(ctx, Request{SQL: "SELECT slow"})
	if code := nlq.CodeOf(err); code != nlq.CodeConnTimeout {
		t.Fatalf("code = %s, want %s", code, nlq.CodeConnTimeout)
	}
}

func TestExecuteClassifiesEngineErrors(t *testing.T) {
	coded := nlq.NewError(nlq.CodeExecS3Failed, "stage transactions: object not found")
	engine := &stubEngine{err: coded}
	executor := New(engine, Config{PoolSize: 1})

	_, err := executor.Execute(context.Background(), Request{SQL: "SELECT 1"})
	if code := nlq.CodeOf(err); code != nlq.CodeExecS3Failed {
		t.Fatalf("coded engine error must pass through, got %s", code)
	}

	engine.err = errors.New("syntax error at or near FORM")
	_, err = executor.Execute(context.Background(), Request{SQL: "SELECT 1 FORM t"})
	if code := nlq.CodeOf(err); code != nlq.CodeExecSQLFailed {
		t.Fatalf("uncoded engine error must classify as %s, got %s", nlq.CodeExecSQLFailed, code)
	}
	if engine.runCount() != 2 {
		t.Fatalf("runs = %d, want 2 (no retries)", engine.runCount())
	}
}
