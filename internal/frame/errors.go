package frame

import (
	"fmt"
	"strings"
)

// LoadError reports a dataset that could not be read or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load dataset %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ColumnError is raised (as a panic value) when a snippet names a column that
// does not exist.
type ColumnError struct {
	Name      string
	Available []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q not found; available: %s", e.Name, strings.Join(e.Available, ", "))
}

// TypeError is raised when a numeric operation is applied to a non-numeric column.
type TypeError struct {
	Column string
	Op     string
	Kind   Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: column %q is %s, not numeric", e.Op, e.Column, e.Kind)
}

// QueryError is raised for malformed query arguments (unknown operator, bad index).
type QueryError struct {
	Op  string
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}
