package dbus

import (
	"errors"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/hal-core/internal/device"
)

// Error names surfaced to IPC clients.
const (
	errNoSuchDevice     = "org.freedesktop.Hal.NoSuchDevice"
	errNoSuchProperty   = "org.freedesktop.Hal.NoSuchProperty"
	errTypeMismatch     = "org.freedesktop.Hal.TypeMismatch"
	errUDIInUse         = "org.freedesktop.Hal.UdiInUse"
	errSyntaxError      = "org.freedesktop.Hal.SyntaxError"
	errPermissionDenied = "org.freedesktop.Hal.PermissionDenied"
)

// ErrConnectionFailed is returned when the bus connection cannot be
// established or the well-known name is already owned.
var ErrConnectionFailed = errors.New("dbus: connection failed")

// busError translates a store error into the bus error taxonomy. Unknown
// errors surface as SyntaxError: the request was well-formed enough to
// reach the store, but the arguments made no sense to it.
func busError(err error) *godbus.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrNoSuchDevice):
		return godbus.NewError(errNoSuchDevice, []any{err.Error()})
	case errors.Is(err, device.ErrNoSuchProperty):
		return godbus.NewError(errNoSuchProperty, []any{err.Error()})
	case errors.Is(err, device.ErrTypeMismatch):
		return godbus.NewError(errTypeMismatch, []any{err.Error()})
	case errors.Is(err, device.ErrUDIInUse):
		return godbus.NewError(errUDIInUse, []any{err.Error()})
	default:
		return godbus.NewError(errSyntaxError, []any{err.Error()})
	}
}

// syntaxError builds a SyntaxError for a malformed request.
func syntaxError(msg string) *godbus.Error {
	return godbus.NewError(errSyntaxError, []any{msg})
}
