package store

import "errors"

var (
	ErrConflict  = errors.New("conflict")
	ErrNotFound  = errors.New("not found")
	ErrTransient = errors.New("transient storage failure")
)
