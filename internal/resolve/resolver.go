// Package resolve drives a validated query spec through concept matching,
// binding resolution, and AST construction to an emitted SQL statement. Every
// transition is appended to the audit trail keyed by the request correlation
// id so a request can be replayed after the fact.
package resolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/queryforge/queryforge/internal/audit"
	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/nlq"
	"github.com/queryforge/queryforge/internal/sqlgen"
)

// Outcome carries the emitted statement and the resolved query it came from.
type Outcome struct {
	Resolved  nlq.ResolvedQuery
	Statement sqlgen.Statement
}

// Request identifies one resolution run.
type Request struct {
	CorrelationID string
	TaskID        string
	Spec          nlq.QuerySpec
	// RowLimit is the caller-requested limit; zero means the default.
	RowLimit int
	// ForceCap is carried from the pre-validator's join-safety finding.
	ForceCap bool
}

// Resolver is a forward-only state machine. It is stateless across requests
// and safe for concurrent use.
type Resolver struct {
	trail audit.Trail
	now   func() time.Time
}

func New(trail audit.Trail) *Resolver {
	if trail == nil {
		trail = audit.Nop{}
	}
	return &Resolver{trail: trail, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve runs the machine against the snapshot the request started with.
func (r *Resolver) Resolve(ctx context.Context, req Request, snapshot *bindings.Snapshot) (Outcome, error) {
	signature := inputSignature(req.Spec)
	record := func(state State, detail string) {
		_ = r.trail.Record(ctx, audit.Entry{
			CorrelationID:  req.CorrelationID,
			TaskID:         req.TaskID,
			State:          state.String(),
			Detail:         detail,
			InputSignature: signature,
			At:             r.now(),
		})
	}
	fail := func(err error) (Outcome, error) {
		record(StateFailed, err.Error())
		return Outcome{}, err
	}

	record(StateInit, fmt.Sprintf("intent=%s", req.Spec.Intent))

	// The NL parse happens upstream; the state is kept so the audit trail
	// stays uniform across deployments that run the parser inline.
	record(StateParseNLQ, "pass-through")

	if strings.TrimSpace(req.Spec.Intent) == "" {
		return fail(nlq.NewError(nlq.CodeResolverNoIntent, "query spec carries no intent"))
	}
	binding, ok := snapshot.Lookup(req.Spec.Intent)
	if !ok {
		return fail(nlq.NewError(nlq.CodeResolverNoBindings, "no bindings registered for intent %q", req.Spec.Intent))
	}
	record(StateMatchConcepts, fmt.Sprintf("table=%s version=%s", binding.Table, snapshot.Version))

	predicates, err := resolvePredicates(req.Spec, binding)
	if err != nil {
		return fail(err)
	}
	record(StateResolveBindings, fmt.Sprintf("predicates=%d", len(predicates)))

	columns := selectColumns(binding)
	if strings.TrimSpace(binding.Table) == "" || len(columns) == 0 {
		// Duplicates part of the pre-validation surface; catches registry
		// drift between snapshot load and resolution.
		return fail(nlq.NewError(nlq.CodeResolverNoBindings, "binding for intent %q resolves to an empty table or column set", req.Spec.Intent))
	}
	record(StateValidate, fmt.Sprintf("columns=%d", len(columns)))

	resolved := nlq.ResolvedQuery{
		Intent:        req.Spec.Intent,
		Table:         binding.Table,
		SelectColumns: columns,
		Predicates:    predicates,
		Joins:         joinPath(binding),
		Limit:         req.RowLimit,
		ForceCap:      req.ForceCap,
	}
	if resolved.Limit <= 0 {
		resolved.Limit = nlq.DefaultRowLimit
	}
	record(StateBuildAST, fmt.Sprintf("table=%s joins=%d limit=%d", resolved.Table, len(resolved.Joins), resolved.Limit))

	statement, err := sqlgen.Generate(resolved)
	if err != nil {
		return fail(err)
	}
	record(StateEmitSQL, statement.SQL)

	record(StateCompleted, "")
	return Outcome{Resolved: resolved, Statement: statement}, nil
}

// resolvePredicates maps each supplied semantic parameter onto its physical
// column. Parameters named start_*/end_* become range bounds; everything else
// is an equality condition.
func resolvePredicates(spec nlq.QuerySpec, binding bindings.Binding) ([]nlq.Predicate, error) {
	names := make([]string, 0, len(spec.Params))
	for name := range spec.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var predicates []nlq.Predicate
	for _, name := range names {
		value, ok := spec.Param(name)
		if !ok {
			continue
		}
		column, ok := binding.Column(name)
		if !ok {
			return nil, nlq.NewError(nlq.CodeResolverParamMissing, "parameter %q has no column mapping for intent %q", name, spec.Intent)
		}
		op := nlq.OpEq
		switch {
		case strings.HasPrefix(name, "start_"):
			op = nlq.OpGte
		case strings.HasPrefix(name, "end_"):
			op = nlq.OpLte
		}
		predicates = append(predicates, nlq.Predicate{Column: column, Op: op, Param: name, Value: value})
	}
	return predicates, nil
}

// selectColumns prefers the binding's declared column list and falls back to
// the distinct mapped columns in sorted order.
func selectColumns(binding bindings.Binding) []string {
	if len(binding.DefaultColumns) > 0 {
		return binding.DefaultColumns
	}
	seen := map[string]bool{}
	var columns []string
	for _, column := range binding.FieldMap {
		if seen[column] {
			continue
		}
		seen[column] = true
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// joinPath keeps the first listed rule per table pair; later duplicates are
// alternative paths and lose the tie-break.
func joinPath(binding bindings.Binding) []nlq.Join {
	seen := map[string]bool{}
	var joins []nlq.Join
	for _, rule := range binding.JoinRules {
		key := rule.LeftTable + "->" + rule.RightTable
		if seen[key] {
			continue
		}
		seen[key] = true
		joins = append(joins, nlq.Join{
			LeftTable:   rule.LeftTable,
			RightTable:  rule.RightTable,
			LeftColumn:  rule.LeftColumn,
			RightColumn: rule.RightColumn,
		})
	}
	return joins
}

// inputSignature fingerprints intent plus sorted parameters.
func inputSignature(spec nlq.QuerySpec) string {
	names := make([]string, 0, len(spec.Params))
	for name := range spec.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	_, _ = fmt.Fprintf(h, "intent=%s", spec.Intent)
	for _, name := range names {
		_, _ = fmt.Fprintf(h, ";%s=%s", name, spec.Params[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}
