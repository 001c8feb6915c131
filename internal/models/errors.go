package models

import "errors"

// Sentinel errors for tree operations.
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrPermissionDenied = errors.New("task is not assigned to you")
	ErrTooDeep          = errors.New("subtasks are limited to three levels")
	ErrDuplicateID      = errors.New("task id already in use")
	ErrCannotMove       = errors.New("cannot move further")
	ErrUnknownField     = errors.New("unknown task field")
	ErrInvalidValue     = errors.New("invalid field value")
)
