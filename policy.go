package strata

import "context"

// Op is the operation a flush performs on a row.
type Op uint

// Flush operations.
const (
	OpInsert Op = 1 << iota
	OpUpdate
	OpDelete
)

// Is reports whether o matches any of the given operations.
func (o Op) Is(op Op) bool { return o&op != 0 }

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "OpInsert"
	case OpUpdate:
		return "OpUpdate"
	case OpDelete:
		return "OpDelete"
	}
	return "Op(unknown)"
}

// Mutation describes the change of one instance about to be flushed.
type Mutation interface {
	Op() Op
	// Entity returns the mapped entity name.
	Entity() string
	// Object returns the instance being flushed.
	Object() any
	// Field returns the value of a column attribute.
	Field(name string) (any, bool)
	// Fields returns the column attributes changed by the mutation.
	Fields() []string
}

// Query describes a query about to be executed.
type Query interface {
	// Entity returns the mapped entity name.
	Entity() string
}

// Policy decides whether queries and mutations may proceed.
type Policy interface {
	EvalQuery(context.Context, Query) error
	EvalMutation(context.Context, Mutation) error
}
