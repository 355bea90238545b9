// Package dbus is the daemon's change-notification bus adapter.
//
// It owns the D-Bus surface in both directions: device store callbacks
// become signals (DeviceAdded, DeviceRemoved and NewCapability on the
// manager object; PropertyModified and Condition on each device path),
// and incoming method calls on the manager and device objects are
// dispatched onto the daemon loop as store operations.
//
// # Objects
//
//	/org/freedesktop/Hal/Manager   org.freedesktop.Hal.Manager
//	<udi>                          org.freedesktop.Hal.Device
//
// Device objects exist exactly while the device is in the global device
// list; a method call racing a removal fails with NoSuchDevice and leaves
// no partial state.
//
// Errors cross the bus under the org.freedesktop.Hal.* names:
// NoSuchDevice, NoSuchProperty, TypeMismatch, UdiInUse, SyntaxError,
// PermissionDenied.
package dbus
