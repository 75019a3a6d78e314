package resolve

// State enumerates the resolver machine. Transitions only move forward except
// for the jump to StateFailed; there are no retries inside the resolver.
type State int

const (
	StateInit State = iota
	StateParseNLQ
	StateMatchConcepts
	StateResolveBindings
	StateValidate
	StateBuildAST
	StateEmitSQL
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateParseNLQ:
		return "PARSE_NLQ"
	case StateMatchConcepts:
		return "MATCH_CONCEPTS"
	case StateResolveBindings:
		return "RESOLVE_BINDINGS"
	case StateValidate:
		return "VALIDATE"
	case StateBuildAST:
		return "BUILD_AST"
	case StateEmitSQL:
		return "EMIT_SQL"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
