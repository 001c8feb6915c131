package engine

import "errors"

var (
	ErrPercentRange = errors.New("percent complete must be between 0 and 100")
	ErrDerivedField = errors.New("percent complete of a parent task is derived from its subtasks")
	ErrNotLeaf      = errors.New("only leaf tasks appear on the board")
	ErrUnknownOp    = errors.New("unknown patch op")
)
