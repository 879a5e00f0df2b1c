package app

import "time"

// Operation tracks the CLI command an App was created for. Commands that change
// local identities mark the operation as mutating; only mutating operations
// write local identities back to the database on Close.
type Operation struct {
	Name       string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time

	mutating bool
}

// NewOperation creates a new, non-mutating operation.
func NewOperation(name, parameters string, startedAt time.Time) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     "success",
		StartedAt:  startedAt,
	}
}

// MarkMutating records that the operation changed local state.
func (op *Operation) MarkMutating() {
	op.mutating = true
}

// Mutating returns true if the operation changed local state.
func (op *Operation) Mutating() bool {
	return op.mutating
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}
