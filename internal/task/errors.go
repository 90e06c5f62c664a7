package task

import (
	"errors"
	"sort"
	"strings"

	"taskshare/internal/access"
)

var (
	// ErrNotFound covers both a missing task and one the requester cannot see.
	ErrNotFound             = errors.New("task not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrForbidden            = errors.New("forbidden")
	ErrPreconditionRequired = errors.New("precondition required")
	ErrPreconditionFailed   = errors.New("precondition failed")
)

// ValidationError reports every invalid field of one request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, dup := e.Fields[field]; !dup {
		e.Fields[field] = msg
	}
}

// errOrNil returns nil when no field failed.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) error {
	v := &ValidationError{}
	v.add(field, msg)
	return v
}

func fromAccess(err error) error {
	switch {
	case errors.Is(err, access.ErrHidden):
		return ErrNotFound
	case errors.Is(err, access.ErrInsufficient):
		return ErrForbidden
	}
	return err
}
