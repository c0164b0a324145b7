package schema

import "errors"

var (
	// ErrInvalidState indicates an unknown lifecycle state value.
	ErrInvalidState = errors.New("invalid core state")
	// ErrEmptyConfig indicates that no configuration content was supplied.
	ErrEmptyConfig = errors.New("empty configuration")
)
