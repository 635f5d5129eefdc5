package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrNotPrivate       = errors.New("timeline is not private")
	ErrGenerationFailed = errors.New("generation failed")
)
