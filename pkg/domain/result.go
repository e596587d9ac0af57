package domain

import "strings"

// Severity captures validation outcomes.
type Severity string

// Validation severities determine whether a cascading save may proceed.
const (
	// SeverityBlock is an error: the save must not proceed.
	SeverityBlock Severity = "block"
	// SeverityWarn is recoverable and reported alongside a successful validation.
	SeverityWarn Severity = "warn"
)

// Violation reports one failed check.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// ValidationResult aggregates ordered violations.
type ValidationResult struct {
	Violations []Violation
}

// AddError appends a blocking violation.
func (r *ValidationResult) AddError(rule string, e Entity, message string) {
	r.Violations = append(r.Violations, newViolation(rule, SeverityBlock, e, message))
}

// AddWarning appends a non-blocking violation.
func (r *ValidationResult) AddWarning(rule string, e Entity, message string) {
	r.Violations = append(r.Violations, newViolation(rule, SeverityWarn, e, message))
}

func newViolation(rule string, severity Severity, e Entity, message string) Violation {
	v := Violation{Rule: rule, Severity: severity, Message: message}
	if !IsNil(e) {
		v.Entity = e.EntityType()
		v.EntityID = e.Meta().ID
	}
	return v
}

// Merge appends violations from another result.
func (r *ValidationResult) Merge(other ValidationResult) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r ValidationResult) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// IsValid reports whether no error was recorded.
func (r ValidationResult) IsValid() bool { return !r.HasBlocking() }

// Errors returns the blocking messages in order.
func (r ValidationResult) Errors() []string { return r.messages(SeverityBlock) }

// Warnings returns the non-blocking messages in order.
func (r ValidationResult) Warnings() []string { return r.messages(SeverityWarn) }

func (r ValidationResult) messages(severity Severity) []string {
	var out []string
	for _, v := range r.Violations {
		if v.Severity == severity {
			out = append(out, v.Message)
		}
	}
	return out
}

// ValidationError is returned by write paths when validation blocks a save.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	errs := e.Result.Errors()
	if len(errs) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(errs, "; ")
}
