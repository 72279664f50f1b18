package orchestrator

import "errors"

// Turn-level failure classes. Tool handler failures are not here: they are
// recorded in the conversation as tool messages so the next reasoning step
// can react to them.
var (
	// ErrGateway means the reasoning service was unreachable or returned
	// output that could not be used. Nothing from the turn is persisted.
	ErrGateway = errors.New("reasoning gateway failed")

	// ErrLoopCeiling means the dispatch/reasoning loop exceeded its bound.
	ErrLoopCeiling = errors.New("tool loop ceiling exceeded")

	// ErrCheckpoint means the checkpoint store was unavailable. The caller
	// must retry the whole turn.
	ErrCheckpoint = errors.New("checkpoint store failed")
)
