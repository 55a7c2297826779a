// Package domain defines the core domain models for the annotator.
package domain

// SelectionType is the judgment a selection carries relative to a rule.
type SelectionType string

const (
	SelectionTypeViolation  SelectionType = "violation"
	SelectionTypeCompliance SelectionType = "compliance"
)

// Valid reports whether t is a known selection type.
func (t SelectionType) Valid() bool {
	return t == SelectionTypeViolation || t == SelectionTypeCompliance
}

// ViolationType distinguishes flagged text from text that should have been there.
type ViolationType string

const (
	ViolationTypeText    ViolationType = "text"
	ViolationTypeMissing ViolationType = "missing"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	return t == ViolationTypeText || t == ViolationTypeMissing
}
