package mounts

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/hal-core/internal/daemon"
	"github.com/nerrad567/hal-core/internal/device"
)

// Conditions emitted on block devices when the mount table changes.
const (
	ConditionMount   = "BlockMountEvent"
	ConditionUnmount = "BlockUnmountEvent"
)

// Logger defines the logging interface used by the syncer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Syncer keeps block devices' volume.is_mounted and volume.mount_point
// properties in line with the mount-state file edited by the storage
// helper tools. The helpers own the file; the daemon only reads it.
type Syncer struct {
	d        *daemon.Daemon
	mtabPath string
	lockPath string
	logger   Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSyncer creates a syncer over the daemon's store.
func NewSyncer(d *daemon.Daemon, mtabPath, lockPath string) *Syncer {
	return &Syncer{
		d:        d,
		mtabPath: mtabPath,
		lockPath: lockPath,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the syncer.
func (s *Syncer) SetLogger(logger Logger) {
	s.logger = logger
}

// Resync reads the mount table and reconciles every published block
// device. Must run on the daemon loop.
func (s *Syncer) Resync() error {
	entries, err := ReadMtab(s.mtabPath, s.lockPath)
	if err != nil {
		return fmt.Errorf("resyncing mounts: %w", err)
	}
	byDevice := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byDevice[e.Device] = e
	}

	store := s.d.Store()
	for _, dev := range store.GDLSnapshot() {
		blockDev := dev.GetString(PropBlockDevice)
		if blockDev == "" {
			continue
		}
		entry, mounted := byDevice[blockDev]
		wasMounted := dev.GetBool(PropIsMounted)

		switch {
		case mounted && (!wasMounted || dev.GetString(PropMountPoint) != entry.MountPoint):
			store.AtomicUpdateBegin()
			s.setOrLog(dev, PropIsMounted, device.BoolValue(true))
			s.setOrLog(dev, PropMountPoint, device.StringValue(entry.MountPoint))
			store.AtomicUpdateEnd()
			if !wasMounted {
				s.d.EmitCondition(dev, ConditionMount, entry.MountPoint)
				s.logger.Info("volume mounted",
					"device", blockDev, "mount_point", entry.MountPoint)
			}

		case !mounted && wasMounted:
			mountPoint := dev.GetString(PropMountPoint)
			store.AtomicUpdateBegin()
			s.setOrLog(dev, PropIsMounted, device.BoolValue(false))
			if dev.HasProperty(PropMountPoint) {
				if err := store.RemoveProperty(dev, PropMountPoint); err != nil {
					s.logger.Warn("cannot clear mount point", "error", err)
				}
			}
			store.AtomicUpdateEnd()
			s.d.EmitCondition(dev, ConditionUnmount, mountPoint)
			s.logger.Info("volume unmounted",
				"device", blockDev, "mount_point", mountPoint)
		}
	}
	return nil
}

func (s *Syncer) setOrLog(dev *device.Device, key string, v device.Value) {
	if err := s.d.Store().SetProperty(dev, key, v); err != nil {
		s.logger.Warn("cannot sync mount property",
			"udi", dev.UDI(), "key", key, "error", err)
	}
}

// Watch installs a file watcher on the mount-state file's directory and
// posts a Resync onto the daemon loop for every change.
func (s *Syncer) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating mtab watcher: %w", err)
	}
	s.watcher = w
	s.done = make(chan struct{})

	// Watch the directory: the helpers replace the file by rename, and a
	// watch pinned on the old inode would go quiet after the first swap.
	dir := filepath.Dir(s.mtabPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go s.watchLoop()
	return nil
}

func (s *Syncer) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.mtabPath {
				continue
			}
			s.logger.Debug("mount table changed", "op", event.Op.String())
			s.d.Loop().Post(func() {
				if err := s.Resync(); err != nil {
					s.logger.Error("mount resync failed", "error", err)
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("mtab watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (s *Syncer) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
