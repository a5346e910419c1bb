package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so callers can compare a returned value against the
// sentinel it originated from.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message prefixed by the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
