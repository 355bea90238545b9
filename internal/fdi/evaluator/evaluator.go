// Package evaluator walks a region of the compiled rule cache against one
// device, mutating its properties through the store so that change
// batching and pending waits behave exactly as for backend writes.
package evaluator

import (
	"fmt"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/cache"
)

// Logger defines the logging interface used by the evaluator.
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

// SpawnFunc materializes the synthetic device declared by a <spawn> rule.
// It receives the device being evaluated and the spawn target UDI and
// returns the device the nested rules apply to, or nil to skip the block.
type SpawnFunc func(parent *device.Device, udi string) *device.Device

// Evaluator applies one cache region to one device at a time.
//
// Thread Safety:
//   - Runs on the daemon event loop with the store it mutates; evaluation
//     never suspends, so a device decoration is observed atomically.
type Evaluator struct {
	store  *device.Store
	spawn  SpawnFunc
	logger Logger
}

// New creates an evaluator bound to a store. spawn may be nil, in which
// case <spawn> blocks are skipped wholesale.
func New(store *device.Store, spawn SpawnFunc) *Evaluator {
	return &Evaluator{
		store:  store,
		spawn:  spawn,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// Evaluate walks the region of phase against d. The whole walk runs inside
// one atomic update span, so a single decoration produces a single change
// notification per touched device.
//
// Merge failures (unparseable values, copy of a missing property) skip the
// record and continue; only cache corruption aborts.
func (e *Evaluator) Evaluate(d *device.Device, c *cache.Cache, phase fdi.Phase) error {
	e.store.AtomicUpdateBegin()
	defer e.store.AtomicUpdateEnd()

	start, end := c.Region(phase)
	return e.walk(d, c, start, end)
}

// walk executes the records in [pos, end) against d.
func (e *Evaluator) walk(d *device.Device, c *cache.Cache, pos, end uint32) error {
	for pos < end {
		r, err := c.RecordAt(pos)
		if err != nil {
			return err
		}
		next := pos + r.Size

		switch r.Type {
		case fdi.RuleMatch:
			if !e.match(d, r) {
				jump, err := checkJump(r, pos, end)
				if err != nil {
					return err
				}
				next = jump
			}

		case fdi.RuleSpawn:
			jump, err := checkJump(r, pos, end)
			if err != nil {
				return err
			}
			if e.spawn != nil {
				if child := e.spawn(d, r.Key()); child != nil {
					if err := e.walk(child, c, pos+r.Size, jump); err != nil {
						return err
					}
				}
			}
			next = jump

		case fdi.RuleMerge, fdi.RuleAppend, fdi.RulePrepend,
			fdi.RuleAddSet, fdi.RuleRemove, fdi.RuleClear:
			e.apply(d, r)

		case fdi.RuleEOF:
			// File boundary; key carries the source filename.

		default:
			e.logger.Warn("unknown rule kind in cache",
				"rtype", uint32(r.Type), "offset", r.Offset)
		}

		pos = next
	}
	return nil
}

// checkJump validates a block's forward jump: it must make progress and
// stay inside the region. A zero jump (no nested block) degrades to the
// next record.
func checkJump(r cache.Record, pos, end uint32) (uint32, error) {
	if r.Jump == 0 {
		return pos + r.Size, nil
	}
	if r.Jump <= pos || r.Jump > end {
		return 0, fmt.Errorf("%w: jump %#x from %#x", cache.ErrCorrupt, r.Jump, pos)
	}
	return r.Jump, nil
}
