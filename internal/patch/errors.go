package patch

import "errors"

var (
	ErrBadCellKey   = errors.New("malformed cell key")
	ErrNotPatchable = errors.New("column is not patchable")
	ErrWrongOp      = errors.New("unexpected patch op")
	ErrInvalidPatch = errors.New("invalid patch")
)
