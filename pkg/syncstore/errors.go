package syncstore

import (
	"errors"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
)

var (
	// ErrNotFound is returned when a document is absent or deleted
	ErrNotFound = couch.ErrNotFound
	// ErrReservedField is returned when a write names a field the store reserves
	ErrReservedField = errors.New("field name is reserved")
	// ErrMissingRevision is returned when an update snapshot has no identity
	ErrMissingRevision = errors.New("original document has no id or revision")
)
