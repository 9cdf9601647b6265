package store

import "errors"

var (
	ErrNotFound          = errors.New("entity not found")
	ErrDuplicateEntity   = errors.New("duplicate entity")
	ErrDuplicateRelation = errors.New("duplicate relation")
)
