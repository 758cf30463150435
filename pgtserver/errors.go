package pgtserver

import "fmt"

// UnknownGrantError is an error used to encode a proxy-ticket request for an
// IOU the CAS server never delivered a grant for (or one that expired)
type UnknownGrantError struct {
	PGTIOU string
}

// NewUnknownGrantError constructs a new UnknownGrantError
func NewUnknownGrantError(pgtIOU string) *UnknownGrantError {
	return &UnknownGrantError{
		PGTIOU: pgtIOU,
	}
}

func (e *UnknownGrantError) Error() string {
	return fmt.Sprintf("no proxy-granting ticket is held for the IOU '%s'",
		e.PGTIOU)
}
