package daemon

import (
	"context"
	"fmt"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/evaluator"
	"github.com/nerrad567/hal-core/internal/fdi/monitor"
)

// Logger defines the logging interface used by the daemon core.
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

// Notifier receives the translated change events. The bus adapter is the
// production implementation; the journal and tests provide others.
//
// All methods are invoked on the daemon loop and must not block.
type Notifier interface {
	DeviceAdded(udi string)
	DeviceRemoved(udi string)
	NewCapability(udi, capability string)
	PropertiesModified(udi string, changes []device.Change)
	Condition(udi, name string, args ...any)
}

// UDIComputer produces a candidate UDI for a device from its bus-specific
// properties. suffix is -1 for the first attempt and counts up from 0 when
// the computed UDI collides with a different physical device.
type UDIComputer func(suffix int) string

// Daemon ties the device store, the rule machinery and the notifier
// together. It owns no goroutines of its own: everything it does happens
// inside loop tasks.
type Daemon struct {
	loop      *Loop
	store     *device.Store
	evaluator *evaluator.Evaluator
	coherency *monitor.Controller
	logger    Logger

	notifiers []Notifier
}

// New wires a daemon core. The coherency controller may be nil when the
// caller evaluates against a fixed cache (tools, tests).
func New(loop *Loop, store *device.Store, coherency *monitor.Controller, logger Logger) *Daemon {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Daemon{
		loop:      loop,
		store:     store,
		coherency: coherency,
		logger:    logger,
	}
	d.evaluator = evaluator.New(store, d.spawnDevice)

	store.SetCallbacks(device.Callbacks{
		PropertiesModified: d.onPropertiesModified,
		GDLChanged:         d.onGDLChanged,
		NewCapability:      d.onNewCapability,
	})
	return d
}

// Loop returns the daemon's event loop.
func (d *Daemon) Loop() *Loop { return d.loop }

// Store returns the device store. Callers must only touch it from loop
// tasks.
func (d *Daemon) Store() *device.Store { return d.store }

// Evaluator returns the rule evaluator bound to this daemon's store.
func (d *Daemon) Evaluator() *evaluator.Evaluator { return d.evaluator }

// SetEvaluatorLogger forwards a logger to the evaluator.
func (d *Daemon) SetEvaluatorLogger(logger evaluator.Logger) {
	d.evaluator.SetLogger(logger)
}

// AddNotifier registers a change-event consumer. Order of registration is
// delivery order.
func (d *Daemon) AddNotifier(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

/**************************************************************************/
/* Store callback translation                                             */
/**************************************************************************/

// onPropertiesModified filters one change batch for IPC: devices not yet
// published stay invisible, and private keys never cross the bus.
func (d *Daemon) onPropertiesModified(dev *device.Device, changes []device.Change) {
	if !dev.InGDL() {
		return
	}
	visible := changes[:0:0]
	for _, ch := range changes {
		if device.IsPrivateKey(ch.Key) {
			continue
		}
		visible = append(visible, ch)
	}
	if len(visible) == 0 {
		return
	}
	for _, n := range d.notifiers {
		n.PropertiesModified(dev.UDI(), visible)
	}
}

func (d *Daemon) onGDLChanged(dev *device.Device, added bool) {
	for _, n := range d.notifiers {
		if added {
			n.DeviceAdded(dev.UDI())
		} else {
			n.DeviceRemoved(dev.UDI())
		}
	}
}

func (d *Daemon) onNewCapability(dev *device.Device, capability string) {
	if !dev.InGDL() {
		return
	}
	for _, n := range d.notifiers {
		n.NewCapability(dev.UDI(), capability)
	}
}

// EmitCondition publishes an ad-hoc condition event on a device, e.g.
// BlockMountEvent or NetLinkEvent.
func (d *Daemon) EmitCondition(dev *device.Device, name string, args ...any) {
	if !dev.InGDL() {
		return
	}
	for _, n := range d.notifiers {
		n.Condition(dev.UDI(), name, args...)
	}
}

/**************************************************************************/
/* Rule application                                                       */
/**************************************************************************/

// Decorate runs one rule phase over dev, regenerating the cache first if
// the coherency controller has marked it suspect. Without a coherency
// controller it does nothing and returns nil.
func (d *Daemon) Decorate(ctx context.Context, dev *device.Device, phase fdi.Phase) error {
	if d.coherency == nil {
		return nil
	}
	if _, err := d.coherency.EnsureFresh(ctx); err != nil {
		// A failed rebuild leaves the previous mapping usable; only a
		// missing mapping is fatal for decoration.
		if d.coherency.Cache() == nil {
			return err
		}
		d.logger.Warn("decorating against stale rule cache", "error", err)
	}
	return d.evaluator.Evaluate(dev, d.coherency.Cache(), phase)
}

// spawnDevice materializes the synthetic device declared by a <spawn>
// rule. An already-known UDI yields the existing device so respawns on
// rediscovery are idempotent.
func (d *Daemon) spawnDevice(parent *device.Device, udi string) *device.Device {
	if existing, ok := d.store.Find(udi); ok {
		return existing
	}
	child := d.store.NewDevice()
	child.SetParentUDI(parent.UDI())
	if err := d.store.CommitToGDL(child, udi); err != nil {
		d.logger.Error("cannot materialize spawned device", "udi", udi, "error", err)
		d.store.Destroy(child)
		return nil
	}
	d.logger.Info("spawned device", "udi", udi, "parent", parent.UDI())
	return child
}

/**************************************************************************/
/* Rename and merge                                                       */
/**************************************************************************/

// RenameAndMerge turns a fully-constructed temporary device into a
// published one:
//
//  1. Compute a candidate UDI (first with no suffix).
//  2. If the UDI is free, decorate the device with the information and
//     policy phases and commit it.
//  3. If the UDI is taken by a device whose namespace properties match,
//     the two are the same physical device: merge the temporary device
//     into the existing one and destroy the temporary.
//  4. Otherwise two distinct devices collide; retry with the next suffix.
//
// Returns the published UDI.
func (d *Daemon) RenameAndMerge(ctx context.Context, dev *device.Device, compute UDIComputer, namespace string) (string, error) {
	for suffix := -1; ; suffix++ {
		udi := compute(suffix)
		if udi == "" {
			return "", fmt.Errorf("%w: empty candidate for suffix %d", device.ErrInvalidUDI, suffix)
		}

		existing, taken := d.store.FindGDL(udi)
		if !taken {
			if err := d.Decorate(ctx, dev, fdi.PhaseInformation); err != nil {
				return "", err
			}
			if err := d.Decorate(ctx, dev, fdi.PhasePolicy); err != nil {
				return "", err
			}
			if err := d.store.CommitToGDL(dev, udi); err != nil {
				return "", err
			}
			return udi, nil
		}

		if d.store.Matches(existing, dev, namespace) {
			// Same physical device rediscovered: fold in the fresh
			// attributes and drop the temporary object quietly.
			d.logger.Info("device rediscovered, merging",
				"udi", udi, "namespace", namespace)
			d.store.Merge(existing, dev)
			d.store.Destroy(dev)
			return existing.UDI(), nil
		}

		d.logger.Debug("udi collision, retrying with suffix",
			"udi", udi, "suffix", suffix+1)
	}
}

/**************************************************************************/
/* Backend events                                                         */
/**************************************************************************/

// HandleBackendEvent applies one discovery event. Backends with richer
// per-bus construction logic drive the store directly instead; this
// default path covers backends that deliver flat attribute bags.
func (d *Daemon) HandleBackendEvent(ctx context.Context, ev BackendEvent) error {
	switch ev.Action {
	case ActionAdd:
		return d.handleAdd(ctx, ev)
	case ActionChange:
		return d.handleChange(ev)
	case ActionRemove:
		return d.handleRemove(ev)
	default:
		return fmt.Errorf("unknown backend action %q", ev.Action)
	}
}

func (d *Daemon) handleAdd(ctx context.Context, ev BackendEvent) error {
	dev := d.store.NewDevice()
	if err := d.store.SetProperty(dev, device.PropSysfsPath, device.StringValue(ev.SysfsPath)); err != nil {
		return err
	}
	for key, val := range ev.Attributes {
		if err := d.store.SetProperty(dev, key, device.StringValue(val)); err != nil {
			d.logger.Warn("dropping attribute", "key", key, "error", err)
		}
	}
	if err := d.Decorate(ctx, dev, fdi.PhasePreprobe); err != nil {
		d.store.Destroy(dev)
		return err
	}

	compute := func(suffix int) string {
		base := "/org/freedesktop/Hal/devices/" + sanitizeUDIComponent(ev.SysfsPath)
		if suffix < 0 {
			return base
		}
		return fmt.Sprintf("%s_%d", base, suffix)
	}
	_, err := d.RenameAndMerge(ctx, dev, compute, "linux")
	return err
}

func (d *Daemon) handleChange(ev BackendEvent) error {
	devs := d.store.FindByString(device.PropSysfsPath, ev.SysfsPath)
	if len(devs) == 0 {
		return fmt.Errorf("%w: sysfs path %s", device.ErrNoSuchDevice, ev.SysfsPath)
	}
	dev := devs[0]
	d.store.AtomicUpdateBegin()
	defer d.store.AtomicUpdateEnd()
	for key, val := range ev.Attributes {
		if err := d.store.SetProperty(dev, key, device.StringValue(val)); err != nil {
			d.logger.Warn("dropping attribute", "key", key, "error", err)
		}
	}
	return nil
}

func (d *Daemon) handleRemove(ev BackendEvent) error {
	devs := d.store.FindByString(device.PropSysfsPath, ev.SysfsPath)
	if len(devs) == 0 {
		return fmt.Errorf("%w: sysfs path %s", device.ErrNoSuchDevice, ev.SysfsPath)
	}
	for _, dev := range devs {
		d.store.Destroy(dev)
	}
	return nil
}

// sanitizeUDIComponent maps an arbitrary path into the UDI alphabet.
func sanitizeUDIComponent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
