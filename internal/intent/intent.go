// Package intent models the natural-language classification step as an
// external collaborator. The query pipeline never depends on it: it only ever
// sees the already-structured spec a parser (or the caller) produced.
package intent

import (
	"context"

	"github.com/queryforge/queryforge/internal/nlq"
)

// Parser turns free text into a structured query spec, constrained to the
// currently supported intents.
type Parser interface {
	Parse(ctx context.Context, text string, intents []string) (nlq.QuerySpec, error)
}
