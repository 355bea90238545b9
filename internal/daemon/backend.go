package daemon

import "context"

// BackendAction classifies a discovery event.
type BackendAction string

// Discovery actions.
const (
	ActionAdd    BackendAction = "add"
	ActionChange BackendAction = "change"
	ActionRemove BackendAction = "remove"
)

// BackendEvent is one kernel-side discovery event: an action, the stable
// per-device path, and the raw key/value attributes the backend scraped.
type BackendEvent struct {
	Action     BackendAction
	SysfsPath  string
	Attributes map[string]string
}

// Backend is the OS-specific collaborator that discovers devices and
// delivers add/change/remove events. The core does not know how devices
// are found; it only indexes the sysfs path as the join key and runs the
// rule phases over whatever the backend constructs.
//
// Backends drive discovery by calling into the Daemon from loop tasks:
// create a device, fill in bus attributes, run the preprobe phase, then
// hand the device to RenameAndMerge.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Start begins event delivery and blocks until ctx is cancelled.
	// Events must be posted to the daemon loop, never handled inline.
	Start(ctx context.Context, d *Daemon) error
}
