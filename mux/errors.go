package mux

import "strings"

// SetupError is a fatal pre-loop failure: socket creation, option set, bind
// or listen. It aborts startup before the readiness loop ever begins.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return "setup " + e.Op + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

type MultiError []error

func (m MultiError) Error() string {
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range m {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}
