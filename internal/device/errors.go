package device

import "errors"

// Domain-specific errors for device store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoSuchDevice is returned when a UDI does not resolve in either the
	// global or the temporary device list.
	ErrNoSuchDevice = errors.New("device: no such device")

	// ErrNoSuchProperty is returned when a key is not present on the device.
	ErrNoSuchProperty = errors.New("device: no such property")

	// ErrTypeMismatch is returned when a set operation targets an existing
	// property of a different type. The property is left unchanged.
	ErrTypeMismatch = errors.New("device: property type mismatch")

	// ErrUDIInUse is returned when a commit target UDI already names a live
	// device in the global device list.
	ErrUDIInUse = errors.New("device: udi in use")

	// ErrAlreadyCommitted is returned when renaming or committing a device
	// that has already left the temporary device list.
	ErrAlreadyCommitted = errors.New("device: already committed")

	// ErrInvalidUDI is returned when a UDI does not begin with '/' or
	// contains characters outside [A-Za-z0-9_/.-].
	ErrInvalidUDI = errors.New("device: invalid udi")

	// ErrInvalidKey is returned when a property key is empty, longer than
	// 128 bytes, or contains non-ASCII bytes.
	ErrInvalidKey = errors.New("device: invalid property key")

	// ErrIndexOutOfRange is returned by RemoveStringAt when the index does
	// not fall inside the list.
	ErrIndexOutOfRange = errors.New("device: list index out of range")
)
