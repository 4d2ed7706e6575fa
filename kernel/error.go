package kernel

// Error describes an error raised by one of the kernel subsystems. Recoverable
// conditions (e.g. frame exhaustion) are returned as *Error values so callers
// can pick an alternative strategy; invariant violations never surface as an
// Error and go through kfmt.Panic instead.
//
// Errors that can be raised on allocation paths must be defined as global
// variables so raising one never itself allocates.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "[" + e.Module + "] " + e.Message
}
