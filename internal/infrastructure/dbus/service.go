package dbus

import (
	"fmt"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/hal-core/internal/daemon"
	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/infrastructure/config"
)

// Object paths and interfaces of the daemon's bus surface.
const (
	ManagerPath      = "/org/freedesktop/Hal/Manager"
	ManagerInterface = "org.freedesktop.Hal.Manager"
	DeviceInterface  = "org.freedesktop.Hal.Device"
)

// Logger defines the logging interface used by the bus adapter.
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

// emitter abstracts signal emission so the adapter can be exercised
// without a live bus. *godbus.Conn satisfies it.
type emitter interface {
	Emit(path godbus.ObjectPath, name string, values ...any) error
}

// exporter abstracts method export. *godbus.Conn satisfies it.
type exporter interface {
	Export(v any, path godbus.ObjectPath, iface string) error
}

// Service is the change-notification bus adapter: it translates device
// store callbacks into bus signals and dispatches incoming method calls
// into store operations on the daemon loop.
//
// Thread Safety:
//   - Method handlers are invoked on godbus goroutines; every store access
//     is funneled through Loop.Call or Loop.Wait. Signal emission happens from loop
//     tasks (the store callbacks) and godbus serializes the writes.
type Service struct {
	conn   *godbus.Conn
	emit   emitter
	export exporter
	loop   *daemon.Loop
	store  *device.Store
	logger Logger
}

// Connect attaches to the bus, claims the configured well-known name and
// exports the manager object plus one object per published device.
//
// Returns:
//   - *Service: Connected adapter; register it with Daemon.AddNotifier
//   - error: ErrConnectionFailed wrapped around the underlying cause
func Connect(cfg config.BusConfig, loop *daemon.Loop, store *device.Store, logger Logger) (*Service, error) {
	var conn *godbus.Conn
	var err error
	if cfg.System {
		conn, err = godbus.ConnectSystemBus()
	} else {
		conn, err = godbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	reply, err := conn.RequestName(cfg.Name, godbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%w: name %s already owned", ErrConnectionFailed, cfg.Name)
	}

	s := newService(conn, conn, loop, store, logger)
	s.conn = conn
	if err := s.exportManager(); err != nil {
		conn.Close()
		return nil, err
	}

	// Devices published before the bus came up still need their objects.
	loop.Wait(func() {
		for _, d := range store.GDLSnapshot() {
			s.exportDevice(d.UDI())
		}
	})

	s.logger.Info("bus adapter connected", "name", cfg.Name)
	return s, nil
}

// newService wires the adapter around pluggable emit/export backends.
func newService(emit emitter, export exporter, loop *daemon.Loop, store *device.Store, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		emit:   emit,
		export: export,
		loop:   loop,
		store:  store,
		logger: logger,
	}
}

// Close releases the bus connection.
func (s *Service) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Service) exportManager() error {
	if s.export == nil {
		return nil
	}
	m := &Manager{s: s}
	if err := s.export.Export(m, ManagerPath, ManagerInterface); err != nil {
		return fmt.Errorf("%w: exporting manager: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (s *Service) exportDevice(udi string) {
	if s.export == nil {
		return
	}
	obj := &DeviceObject{s: s, udi: udi}
	if err := s.export.Export(obj, godbus.ObjectPath(udi), DeviceInterface); err != nil {
		s.logger.Error("cannot export device object", "udi", udi, "error", err)
	}
}

func (s *Service) unexportDevice(udi string) {
	if s.export == nil {
		return
	}
	// Export(nil, ...) removes the handler.
	if err := s.export.Export(nil, godbus.ObjectPath(udi), DeviceInterface); err != nil {
		s.logger.Warn("cannot unexport device object", "udi", udi, "error", err)
	}
}

/**************************************************************************/
/* daemon.Notifier                                                        */
/**************************************************************************/

// propChange is the wire form of one property transition: (sbb).
type propChange struct {
	Key     string
	Removed bool
	Added   bool
}

// DeviceAdded exports the device object and announces it on the manager.
func (s *Service) DeviceAdded(udi string) {
	s.exportDevice(udi)
	s.signal(ManagerPath, ManagerInterface+".DeviceAdded", udi)
}

// DeviceRemoved withdraws the device object and announces the removal.
func (s *Service) DeviceRemoved(udi string) {
	s.unexportDevice(udi)
	s.signal(ManagerPath, ManagerInterface+".DeviceRemoved", udi)
}

// NewCapability announces a capability gain on the manager.
func (s *Service) NewCapability(udi, capability string) {
	s.signal(ManagerPath, ManagerInterface+".NewCapability", udi, capability)
}

// PropertiesModified emits one PropertyModified signal on the device path
// carrying the batch in queue order.
func (s *Service) PropertiesModified(udi string, changes []device.Change) {
	wire := make([]propChange, len(changes))
	for i, ch := range changes {
		wire[i] = propChange{Key: ch.Key, Removed: ch.Removed, Added: ch.Added}
	}
	s.signal(godbus.ObjectPath(udi), DeviceInterface+".PropertyModified",
		int32(len(wire)), wire)
}

// Condition emits an ad-hoc condition signal on the device path.
func (s *Service) Condition(udi, name string, args ...any) {
	s.signal(godbus.ObjectPath(udi), DeviceInterface+".Condition",
		append([]any{name}, args...)...)
}

func (s *Service) signal(path godbus.ObjectPath, name string, values ...any) {
	if s.emit == nil {
		return
	}
	if err := s.emit.Emit(path, name, values...); err != nil {
		s.logger.Error("signal emission failed", "signal", name, "error", err)
	}
}
