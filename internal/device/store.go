package device

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
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

// Scheduler schedules a function to run after a delay, on the same
// goroutine that owns the store. The returned cancel function stops the
// timer; calling it after the function ran is a no-op.
//
// The daemon event loop provides the production implementation; tests
// substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// timerScheduler is the fallback Scheduler based on time.AfterFunc.
// It delivers callbacks on a timer goroutine, which is only acceptable when
// the store owner does not care about loop affinity (tests, tools).
type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Change records one property mutation for change notification.
// Removed and Added describe the transition: a value update has both false.
type Change struct {
	Key     string
	Removed bool
	Added   bool
}

// Callbacks are invoked synchronously from the store operation that caused
// them. The daemon translates them for its notifiers (the bus adapter among
// them); it drops events for devices not yet in the GDL and for private keys.
type Callbacks struct {
	// PropertiesModified delivers one batch per device. Outside an atomic
	// update span every mutation arrives as a batch of one; inside a span
	// mutations are queued and drained, in order, when the span closes.
	PropertiesModified func(d *Device, changes []Change)

	// GDLChanged fires when a device enters (added=true) or leaves the
	// global device list. On removal the device is already undiscoverable
	// via Find.
	GDLChanged func(d *Device, added bool)

	// NewCapability fires when a capability tag is added for the first time.
	NewCapability func(d *Device, capability string)
}

// waitKey indexes the pending-wait table.
type waitKey struct {
	key     string
	value   string
	wantGDL bool
}

type pendingWait struct {
	fn     func(*Device)
	cancel func()
}

// Store owns every device object: the temporary device list (devices under
// construction, invisible on IPC) and the global device list (published
// devices). It provides lookup, commit, merge, destroy, property mutation
// with change batching, and asynchronous find-by-property.
//
// Thread Safety:
//   - NOT safe for concurrent use. All operations must run on the daemon
//     event loop; the loop's single-threaded execution is what makes
//     callback ordering and atomic-update semantics observable as specified.
type Store struct {
	logger    Logger
	callbacks Callbacks
	scheduler Scheduler

	gdl      map[string]*Device
	tdl      map[string]*Device
	gdlOrder []*Device

	tempSeq uint64

	// Atomic update state: while depth > 0, changes queue per device.
	atomicDepth  int
	pendingOrder []*Device
	pending      map[*Device][]Change

	waits map[waitKey][]*pendingWait
}

// NewStore creates an empty device store. A nil scheduler falls back to
// plain timers (callbacks then run off-loop; fine for tools and tests).
func NewStore(scheduler Scheduler) *Store {
	if scheduler == nil {
		scheduler = timerScheduler{}
	}
	return &Store{
		logger:    noopLogger{},
		scheduler: scheduler,
		gdl:       make(map[string]*Device),
		tdl:       make(map[string]*Device),
		pending:   make(map[*Device][]Change),
		waits:     make(map[waitKey][]*pendingWait),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetCallbacks installs the change-notification callbacks.
func (s *Store) SetCallbacks(cb Callbacks) {
	s.callbacks = cb
}

// NewDevice creates a blank device in the temporary device list under a
// synthesized UDI. The device has no properties and no parent and must not
// be visible on IPC until committed.
func (s *Store) NewDevice() *Device {
	s.tempSeq++
	udi := TempUDIPrefix + strconv.FormatUint(s.tempSeq, 10)
	d := newDevice(udi)
	s.tdl[udi] = d
	s.logger.Debug("device created", "udi", udi)
	return d
}

// Find resolves a UDI against the global list first, then the temporary
// list. O(1) expected.
func (s *Store) Find(udi string) (*Device, bool) {
	if d, ok := s.gdl[udi]; ok {
		return d, true
	}
	if d, ok := s.tdl[udi]; ok {
		return d, true
	}
	return nil, false
}

// FindGDL resolves a UDI against the global device list only.
func (s *Store) FindGDL(udi string) (*Device, bool) {
	d, ok := s.gdl[udi]
	return d, ok
}

// GDLSize returns the number of published devices.
func (s *Store) GDLSize() int { return len(s.gdl) }

// TDLSize returns the number of devices under construction.
func (s *Store) TDLSize() int { return len(s.tdl) }

// GDLSnapshot returns the published devices in commit order. The snapshot
// is stable: devices removed after the call remain in the returned slice
// but no longer resolve via Find.
func (s *Store) GDLSnapshot() []*Device {
	out := make([]*Device, len(s.gdlOrder))
	copy(out, s.gdlOrder)
	return out
}

// CommitToGDL atomically renames the device to finalUDI and moves it from
// the temporary list to the global list, firing GDLChanged and resolving
// pending waits.
//
// Returns:
//   - ErrAlreadyCommitted if the device is already published
//   - ErrInvalidUDI if finalUDI is not path-shaped ASCII
//   - ErrUDIInUse if finalUDI already names a published device; the caller
//     must retry with a different suffix or merge instead (see daemon
//     rename-and-merge)
func (s *Store) CommitToGDL(d *Device, finalUDI string) error {
	if d.inGDL {
		return ErrAlreadyCommitted
	}
	if err := ValidateUDI(finalUDI); err != nil {
		return err
	}
	if _, taken := s.gdl[finalUDI]; taken {
		return fmt.Errorf("%w: %s", ErrUDIInUse, finalUDI)
	}

	delete(s.tdl, d.udi)
	d.udi = finalUDI
	d.inGDL = true
	d.setValue(PropUDI, StringValue(finalUDI))
	s.gdl[finalUDI] = d
	s.gdlOrder = append(s.gdlOrder, d)

	s.logger.Info("device committed", "udi", finalUDI)

	if s.callbacks.GDLChanged != nil {
		s.callbacks.GDLChanged(d, true)
	}

	// A backend may have registered a wait before this device, or any of
	// its properties, existed. Re-run every string property through the
	// wait table now that the device is published.
	for _, p := range d.Properties() {
		if p.Value.Type() == TypeString {
			s.resolveWaits(d, p.Key, p.Value.AsString())
		}
	}
	return nil
}

// Destroy removes the device from whichever list holds it and releases its
// properties. GDLChanged(removed) fires only for published devices, after
// the device is no longer discoverable via Find.
func (s *Store) Destroy(d *Device) {
	wasGDL := d.inGDL
	if wasGDL {
		delete(s.gdl, d.udi)
		for i, g := range s.gdlOrder {
			if g == d {
				s.gdlOrder = append(s.gdlOrder[:i], s.gdlOrder[i+1:]...)
				break
			}
		}
		d.inGDL = false
	} else {
		delete(s.tdl, d.udi)
	}

	// Drop any buffered changes; the device is gone.
	if _, ok := s.pending[d]; ok {
		delete(s.pending, d)
		for i, p := range s.pendingOrder {
			if p == d {
				s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
				break
			}
		}
	}

	s.logger.Debug("device destroyed", "udi", d.udi, "was_published", wasGDL)

	if wasGDL && s.callbacks.GDLChanged != nil {
		s.callbacks.GDLChanged(d, false)
	}
}

// Merge copies every property of source into target in insertion order,
// overwriting on key collision regardless of the previous type. Used when a
// rediscovered device must inherit fresh bus-specific attributes.
func (s *Store) Merge(target, source *Device) {
	for _, p := range source.Properties() {
		s.setOverwrite(target, p.Key, p.Value)
	}
}

// Matches reports whether every property of a whose key starts with
// namespace exists in b with equal type and equal value. Not symmetric.
func (s *Store) Matches(a, b *Device, namespace string) bool {
	for _, p := range a.Properties() {
		if !strings.HasPrefix(p.Key, namespace) {
			continue
		}
		v, err := b.Property(p.Key)
		if err != nil || !p.Value.Equal(v) {
			return false
		}
	}
	return true
}

/**************************************************************************/
/* Property mutation                                                      */
/**************************************************************************/

// SetProperty sets key to v with set-if-different semantics: if an equal
// value of the same type is already present the call is a no-op and no
// change is emitted. Setting a different type over an existing property
// fails with ErrTypeMismatch and does not mutate.
func (s *Store) SetProperty(d *Device, key string, v Value) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if existing, err := d.Property(key); err == nil {
		if existing.Type() != v.Type() {
			return fmt.Errorf("%w: %s is %s, not %s",
				ErrTypeMismatch, key, existing.Type(), v.Type())
		}
		if existing.Equal(v) {
			return nil
		}
	}
	added := d.setValue(key, v)
	s.emitChange(d, Change{Key: key, Added: added})
	if v.Type() == TypeString {
		s.resolveWaits(d, key, v.AsString())
	}
	return nil
}

// setOverwrite replaces key with v even when the type changes. Merge-only.
func (s *Store) setOverwrite(d *Device, key string, v Value) {
	if existing, err := d.Property(key); err == nil {
		if existing.Equal(v) {
			return
		}
		d.setValue(key, v)
		s.emitChange(d, Change{Key: key})
	} else {
		d.setValue(key, v)
		s.emitChange(d, Change{Key: key, Added: true})
	}
	if v.Type() == TypeString {
		s.resolveWaits(d, key, v.AsString())
	}
}

// RemoveProperty removes key from the device.
// Returns ErrNoSuchProperty if the key is absent.
func (s *Store) RemoveProperty(d *Device, key string) error {
	if !d.removeValue(key) {
		return fmt.Errorf("%w: %s", ErrNoSuchProperty, key)
	}
	s.emitChange(d, Change{Key: key, Removed: true})
	return nil
}

// strListMutate applies fn to the current list stored under key (an absent
// key counts as an empty list) and stores the result. fn returns the new
// list and whether anything changed.
func (s *Store) strListMutate(d *Device, key string, fn func([]string) ([]string, bool)) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	var cur []string
	added := true
	if existing, err := d.Property(key); err == nil {
		if existing.Type() != TypeStrList {
			return fmt.Errorf("%w: %s is %s, not strlist",
				ErrTypeMismatch, key, existing.Type())
		}
		cur = existing.AsStrList()
		added = false
	}
	next, changed := fn(cur)
	if !changed {
		return nil
	}
	d.setValue(key, StrListValue(next))
	s.emitChange(d, Change{Key: key, Added: added})
	return nil
}

// AppendString appends elem to the strlist stored under key, creating the list
// if absent. With onlyIfUnique set, an element already present leaves the
// list untouched.
func (s *Store) AppendString(d *Device, key, elem string, onlyIfUnique bool) error {
	return s.strListMutate(d, key, func(cur []string) ([]string, bool) {
		if onlyIfUnique {
			for _, e := range cur {
				if e == elem {
					return cur, false
				}
			}
		}
		return append(cur, elem), true
	})
}

// PrependString inserts elem at the front of the strlist stored under key,
// creating the list if absent.
func (s *Store) PrependString(d *Device, key, elem string) error {
	return s.strListMutate(d, key, func(cur []string) ([]string, bool) {
		return append([]string{elem}, cur...), true
	})
}

// AddString is the idempotent list add: append-if-absent.
func (s *Store) AddString(d *Device, key, elem string) error {
	return s.AppendString(d, key, elem, true)
}

// RemoveString removes all occurrences of elem from the strlist under key.
// A missing key or absent element is a no-op.
func (s *Store) RemoveString(d *Device, key, elem string) error {
	if !d.HasProperty(key) {
		return nil
	}
	return s.strListMutate(d, key, func(cur []string) ([]string, bool) {
		out := cur[:0]
		removed := false
		for _, e := range cur {
			if e == elem {
				removed = true
				continue
			}
			out = append(out, e)
		}
		return out, removed
	})
}

// RemoveStringAt removes the element at index from the strlist under key.
func (s *Store) RemoveStringAt(d *Device, key string, index int) error {
	if !d.HasProperty(key) {
		return fmt.Errorf("%w: %s", ErrNoSuchProperty, key)
	}
	var oob error
	err := s.strListMutate(d, key, func(cur []string) ([]string, bool) {
		if index < 0 || index >= len(cur) {
			oob = fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(cur))
			return cur, false
		}
		return append(cur[:index], cur[index+1:]...), true
	})
	if err != nil {
		return err
	}
	return oob
}

// AddCapability adds a capability tag to info.capabilities. The operation
// is idempotent: adding a tag that is already present emits nothing.
// Removal is not supported.
func (s *Store) AddCapability(d *Device, capability string) error {
	if d.HasCapability(capability) {
		return nil
	}
	if err := s.AddString(d, PropCapabilities, capability); err != nil {
		return err
	}
	s.logger.Debug("capability added", "udi", d.udi, "capability", capability)
	if s.callbacks.NewCapability != nil {
		s.callbacks.NewCapability(d, capability)
	}
	return nil
}

/**************************************************************************/
/* Atomic update spans                                                    */
/**************************************************************************/

// AtomicUpdateBegin opens an atomic update span. Spans nest; changes are
// buffered per device until the outermost span closes. Rule evaluation runs
// inside a span so one device decoration yields one notification.
func (s *Store) AtomicUpdateBegin() {
	s.atomicDepth++
}

// AtomicUpdateEnd closes one nesting level. On the transition to zero the
// buffered changes drain: one PropertiesModified callback per device, in
// the order devices first queued a change, entries in queue order.
func (s *Store) AtomicUpdateEnd() {
	if s.atomicDepth == 0 {
		s.logger.Warn("atomic update end without begin")
		return
	}
	s.atomicDepth--
	if s.atomicDepth > 0 {
		return
	}

	order := s.pendingOrder
	batches := s.pending
	s.pendingOrder = nil
	s.pending = make(map[*Device][]Change)

	for _, d := range order {
		changes := batches[d]
		if len(changes) == 0 {
			continue
		}
		if s.callbacks.PropertiesModified != nil {
			s.callbacks.PropertiesModified(d, changes)
		}
	}
}

// InAtomicUpdate reports whether an atomic update span is open.
func (s *Store) InAtomicUpdate() bool { return s.atomicDepth > 0 }

func (s *Store) emitChange(d *Device, ch Change) {
	if s.atomicDepth > 0 {
		if _, ok := s.pending[d]; !ok {
			s.pendingOrder = append(s.pendingOrder, d)
		}
		s.pending[d] = append(s.pending[d], ch)
		return
	}
	if s.callbacks.PropertiesModified != nil {
		s.callbacks.PropertiesModified(d, []Change{ch})
	}
}

/**************************************************************************/
/* Asynchronous find                                                      */
/**************************************************************************/

// AsyncFindByString schedules fn to be called with the first device whose
// string property key equals value. If such a device already exists, fn is
// invoked synchronously before AsyncFindByString returns. Otherwise the
// wait is parked and resolved by a future property mutation or GDL
// insertion; if timeout elapses first, fn receives nil.
//
// With waitForGDL set only published devices satisfy the wait; backends use
// this to serialize on parents that are discovered out of order.
func (s *Store) AsyncFindByString(key, value string, waitForGDL bool, timeout time.Duration, fn func(*Device)) {
	if d := s.findByString(key, value, waitForGDL); d != nil {
		fn(d)
		return
	}

	wk := waitKey{key: key, value: value, wantGDL: waitForGDL}
	w := &pendingWait{fn: fn}
	w.cancel = s.scheduler.AfterFunc(timeout, func() {
		s.expireWait(wk, w)
	})
	s.waits[wk] = append(s.waits[wk], w)
	s.logger.Debug("wait parked", "key", key, "value", value, "gdl_only", waitForGDL)
}

// findByString scans the global list (and the temporary list unless
// gdlOnly) for a device whose string property key equals value. Private
// keys never match.
func (s *Store) findByString(key, value string, gdlOnly bool) *Device {
	if IsPrivateKey(key) {
		return nil
	}
	for _, d := range s.gdlOrder {
		if d.GetString(key) == value {
			return d
		}
	}
	if gdlOnly {
		return nil
	}
	for _, d := range s.tdl {
		if d.GetString(key) == value {
			return d
		}
	}
	return nil
}

// FindByString returns all published devices whose string property key
// equals value, in commit order. Private keys yield no results.
func (s *Store) FindByString(key, value string) []*Device {
	if IsPrivateKey(key) {
		return nil
	}
	var out []*Device
	for _, d := range s.gdlOrder {
		if d.GetString(key) == value {
			out = append(out, d)
		}
	}
	return out
}

// FindByCapability returns all published devices carrying the capability.
func (s *Store) FindByCapability(capability string) []*Device {
	var out []*Device
	for _, d := range s.gdlOrder {
		if d.HasCapability(capability) {
			out = append(out, d)
		}
	}
	return out
}

// resolveWaits fires every parked wait satisfied by (key == value) on d.
// Called on string property mutation and, for each string property, on GDL
// insertion.
func (s *Store) resolveWaits(d *Device, key, value string) {
	if len(s.waits) == 0 || IsPrivateKey(key) {
		return
	}
	keys := []waitKey{{key: key, value: value, wantGDL: false}}
	if d.inGDL {
		keys = append(keys, waitKey{key: key, value: value, wantGDL: true})
	}
	for _, wk := range keys {
		waiters := s.waits[wk]
		if len(waiters) == 0 {
			continue
		}
		delete(s.waits, wk)
		for _, w := range waiters {
			w.cancel()
			w.fn(d)
		}
	}
}

// expireWait removes a timed-out wait and delivers nil.
func (s *Store) expireWait(wk waitKey, w *pendingWait) {
	waiters := s.waits[wk]
	for i, cand := range waiters {
		if cand == w {
			waiters = append(waiters[:i], waiters[i+1:]...)
			if len(waiters) == 0 {
				delete(s.waits, wk)
			} else {
				s.waits[wk] = waiters
			}
			s.logger.Debug("wait timed out", "key", wk.key, "value", wk.value)
			w.fn(nil)
			return
		}
	}
}

// PendingWaits returns the number of parked async finds, for monitoring.
func (s *Store) PendingWaits() int {
	n := 0
	for _, ws := range s.waits {
		n += len(ws)
	}
	return n
}
