// Package reasoning wraps the external reasoning service behind a small
// gateway interface the orchestrator can stub in tests.
package reasoning

import (
	"context"

	"github.com/transitops/movi/internal/capability"
	"github.com/transitops/movi/internal/domain"
)

// Gateway produces one decision per reasoning step: a plain assistant reply,
// or an assistant message carrying capability calls to evaluate and dispatch.
type Gateway interface {
	Decide(ctx context.Context, history []domain.Message, defs []capability.Definition) (domain.Message, error)
}
