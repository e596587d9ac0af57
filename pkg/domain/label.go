package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Label selects the backend an operation targets.
type Label string

// Known environment labels.
const (
	Dev  Label = "dev"
	Prod Label = "prod"
)

// DefaultLabel is used when no request signal selects an environment.
const DefaultLabel = Prod

// ErrUnknownLabel is wrapped by ContextError when a label outside Labels() is requested.
var ErrUnknownLabel = errors.New("unknown environment label")

// Labels lists every supported label.
func Labels() []Label { return []Label{Dev, Prod} }

// Valid reports whether l is a supported label.
func (l Label) Valid() bool { return l == Dev || l == Prod }

func (l Label) String() string { return string(l) }

// ParseLabel normalises raw (trimmed, case-insensitive) and reports whether it
// names a supported label.
func ParseLabel(raw string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if !l.Valid() {
		return "", false
	}
	return l, true
}

// ContextError reports that the persistence context for a label is unusable.
// No other label's connection is ever substituted.
type ContextError struct {
	Label Label
	Op    string
	Err   error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("persistence context %q: %s: %v", string(e.Label), e.Op, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }
