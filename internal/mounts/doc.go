// Package mounts handles the daemon's side of the mount-state contract.
//
// The storage helper tools (mount/unmount/eject) are separate privileged
// programs; while editing the tab-separated state file at /media/.hal-mtab
// they hold an exclusive flock on /media/.hal-mtab-lock and replace the
// file atomically via a '~' sibling. That file is the authoritative record
// of who mounted what.
//
// This package gives the daemon (and the helpers' Go siblings) the shared
// primitives — entry parsing and formatting, the advisory lock, the
// atomic rewrite — plus the Syncer, which watches the file and keeps each
// block device's volume.is_mounted and volume.mount_point properties
// honest, emitting BlockMountEvent / BlockUnmountEvent conditions as the
// table changes.
package mounts
