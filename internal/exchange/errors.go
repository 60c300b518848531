package exchange

import "fmt"

// ClientConstructionError wraps a failure to turn stored credentials into a
// usable client. It distinguishes configuration problems from venue errors.
type ClientConstructionError struct {
	Account string
	Cause   error
}

func (e *ClientConstructionError) Error() string {
	return fmt.Sprintf("build client for account %q: %v", e.Account, e.Cause)
}

func (e *ClientConstructionError) Unwrap() error { return e.Cause }

// UnsupportedOperationError is returned when a segment has no implementation
// for the requested operation.
type UnsupportedOperationError struct {
	Segment   string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s is not supported on the %s segment", e.Operation, e.Segment)
}
