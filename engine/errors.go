package engine

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrSaveFailed    = errors.New("failed to save config")
	ErrNoSample      = errors.New("no sample captured yet")
)
