package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrMissingFilePath = errors.New("file path is required")
	ErrInvalidUTF8     = errors.New("content is not valid UTF-8")
)
