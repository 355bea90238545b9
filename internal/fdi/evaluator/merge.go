package evaluator

import (
	"errors"
	"strconv"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/cache"
)

// apply executes a merge-family record against d. Failures skip the record:
// a rule file must never be able to abort the decoration of a device.
func (e *Evaluator) apply(d *device.Device, r cache.Record) {
	key := r.Key()
	value := r.Value()

	var err error
	switch r.Type {
	case fdi.RuleMerge:
		err = e.applyMerge(d, key, value, r.Merge)

	case fdi.RuleAppend:
		err = e.applyConcat(d, key, value, r.Merge, false)

	case fdi.RulePrepend:
		err = e.applyConcat(d, key, value, r.Merge, true)

	case fdi.RuleAddSet:
		err = e.store.AddString(d, key, value)

	case fdi.RuleRemove:
		if r.Merge == fdi.MergeStrList {
			err = e.store.RemoveString(d, key, value)
		} else if rmErr := e.store.RemoveProperty(d, key); rmErr != nil &&
			!errors.Is(rmErr, device.ErrNoSuchProperty) {
			err = rmErr
		}

	case fdi.RuleClear:
		if rmErr := e.store.RemoveProperty(d, key); rmErr != nil &&
			!errors.Is(rmErr, device.ErrNoSuchProperty) {
			err = rmErr
		}
	}

	if err != nil {
		e.logger.Warn("rule skipped",
			"rule", r.Type.String(),
			"key", key,
			"error", err,
		)
	}
}

// applyMerge sets a typed scalar, replaces a list, copies another property
// or removes the key, per the record's merge type.
func (e *Evaluator) applyMerge(d *device.Device, key, value string, mt fdi.MergeType) error {
	switch mt {
	case fdi.MergeString:
		return e.store.SetProperty(d, key, device.StringValue(value))

	case fdi.MergeBoolean:
		return e.store.SetProperty(d, key, device.BoolValue(value == "true"))

	case fdi.MergeInt32:
		// Base 0: rule files write bus ids in hex.
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return err
		}
		return e.store.SetProperty(d, key, device.Int32Value(int32(n)))

	case fdi.MergeUint64:
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		return e.store.SetProperty(d, key, device.Uint64Value(n))

	case fdi.MergeDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		return e.store.SetProperty(d, key, device.DoubleValue(f))

	case fdi.MergeStrList:
		// merge on a strlist replaces the whole list.
		return e.store.SetProperty(d, key, device.StrListValue([]string{value}))

	case fdi.MergeCopyProperty:
		src, err := d.Property(value)
		if err != nil {
			return err
		}
		return e.store.SetProperty(d, key, src)

	case fdi.MergeRemove:
		if err := e.store.RemoveProperty(d, key); err != nil &&
			!errors.Is(err, device.ErrNoSuchProperty) {
			return err
		}
		return nil

	default:
		return errUnknownMergeType
	}
}

// applyConcat implements append/prepend: string concatenation for string
// merges, list edge insertion for strlist merges.
func (e *Evaluator) applyConcat(d *device.Device, key, value string, mt fdi.MergeType, front bool) error {
	switch mt {
	case fdi.MergeString:
		cur := ""
		if existing, err := d.Property(key); err == nil {
			if existing.Type() != device.TypeString {
				return device.ErrTypeMismatch
			}
			cur = existing.AsString()
		}
		if front {
			return e.store.SetProperty(d, key, device.StringValue(value+cur))
		}
		return e.store.SetProperty(d, key, device.StringValue(cur+value))

	case fdi.MergeStrList:
		if front {
			return e.store.PrependString(d, key, value)
		}
		return e.store.AppendString(d, key, value, false)

	case fdi.MergeCopyProperty:
		src, err := d.Property(value)
		if err != nil || src.Type() != device.TypeString {
			return device.ErrNoSuchProperty
		}
		return e.applyConcat(d, key, src.AsString(), fdi.MergeString, front)

	default:
		return errUnknownMergeType
	}
}

var errUnknownMergeType = errors.New("evaluator: unknown merge type")
