package nlq

// Op is a predicate comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Predicate is one WHERE condition over an already-resolved physical column.
// Param keeps the originating semantic name for audit and post-validation; the
// generator only ever renders Column.
type Predicate struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Param  string `json:"param"`
	Value  string `json:"value"`
}

// Join is one resolved join edge between two physical tables.
type Join struct {
	LeftTable   string `json:"left_table"`
	RightTable  string `json:"right_table"`
	LeftColumn  string `json:"left_column"`
	RightColumn string `json:"right_column"`
}

// ResolvedQuery is the fully schema-bound, pre-SQL representation of one
// request. It lives for the duration of the request and is discarded after
// SQL emission.
type ResolvedQuery struct {
	Intent        string      `json:"intent"`
	Table         string      `json:"table"`
	SelectColumns []string    `json:"select_columns"`
	Predicates    []Predicate `json:"predicates"`
	Joins         []Join      `json:"joins"`
	Limit         int         `json:"limit"`
	// ForceCap is set when the join-safety heuristic flagged the request;
	// the generator then clamps the limit to the conservative default.
	ForceCap bool `json:"force_cap,omitempty"`
}
