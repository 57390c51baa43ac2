package trainconfig

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Issue kinds reported by Issues.
const (
	KindMissingField      = "missing_field"
	KindTypeMismatch      = "type_mismatch"
	KindInvalidPath       = "invalid_path"
	KindUnknownIdentifier = "unknown_identifier"
	KindConstraint        = "constraint"
	KindSyntax            = "syntax"
)

// ErrSyntax is returned when the document is not well-formed YAML.
var ErrSyntax = errors.New("malformed YAML document")

// MissingFieldError reports a required key that is absent or null.
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: required field is missing", e.Path)
}

// TypeMismatchError reports a value whose YAML type does not match the schema.
type TypeMismatchError struct {
	Path     string
	Expected string
	Actual   string
	Value    string
}

func (e *TypeMismatchError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: expected %s, got %s %q", e.Path, e.Expected, e.Actual, e.Value)
	}
	return fmt.Sprintf("%s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// InvalidPathError reports a data directory that cannot be used.
type InvalidPathError struct {
	Path string
	Dir  string
	Err  error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("%s: directory %q is not usable: %v", e.Path, e.Dir, e.Err)
}

func (e *InvalidPathError) Unwrap() error {
	return e.Err
}

// UnknownIdentifierError reports a component name with no registered implementation.
type UnknownIdentifierError struct {
	Path string
	Kind string
	Name string
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("%s: unknown %s %q", e.Path, e.Kind, e.Name)
}

// ConstraintError reports a well-typed value outside its allowed range or set.
type ConstraintError struct {
	Path   string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Issue is a flattened, serialisable view of a single validation failure.
type Issue struct {
	Path    string `json:"path" yaml:"path"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

// Issues splits a (possibly combined) load error into individual issues.
func Issues(err error) []Issue {
	if err == nil {
		return nil
	}
	errs := multierr.Errors(err)
	out := make([]Issue, 0, len(errs))
	for _, e := range errs {
		out = append(out, issueFor(e))
	}
	return out
}

func issueFor(err error) Issue {
	var (
		missing    *MissingFieldError
		mismatch   *TypeMismatchError
		badPath    *InvalidPathError
		unknown    *UnknownIdentifierError
		constraint *ConstraintError
	)
	switch {
	case errors.As(err, &missing):
		return Issue{Path: missing.Path, Kind: KindMissingField, Message: err.Error()}
	case errors.As(err, &mismatch):
		return Issue{Path: mismatch.Path, Kind: KindTypeMismatch, Message: err.Error()}
	case errors.As(err, &badPath):
		return Issue{Path: badPath.Path, Kind: KindInvalidPath, Message: err.Error()}
	case errors.As(err, &unknown):
		return Issue{Path: unknown.Path, Kind: KindUnknownIdentifier, Message: err.Error()}
	case errors.As(err, &constraint):
		return Issue{Path: constraint.Path, Kind: KindConstraint, Message: err.Error()}
	case errors.Is(err, ErrSyntax):
		return Issue{Kind: KindSyntax, Message: err.Error()}
	default:
		return Issue{Kind: "error", Message: err.Error()}
	}
}
