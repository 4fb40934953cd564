package replica

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
)

var (
	// ErrNotFound is returned when no live movie has the requested id.
	ErrNotFound = errors.New("movie not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("replica store closed")
)

// ValidationError is returned when a movie fails the replica schema. The
// movie is never persisted.
type ValidationError struct {
	ID model.ID
	// Fields maps each offending field to the rule it broke.
	Fields map[string]string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid movie %q: %v", e.ID, e.Err)
	}
	parts := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		parts = append(parts, f+"="+tag)
	}
	sort.Strings(parts)
	return fmt.Sprintf("invalid movie %q: %s", e.ID, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a conditional mutation finds the record at
// a different revision than expected.
type ConflictError struct {
	ID       model.ID
	Expected uint64
	Actual   uint64
	Deleted  bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on movie %q: expected revision %d, found %d (deleted=%t)",
		e.ID, e.Expected, e.Actual, e.Deleted)
}
