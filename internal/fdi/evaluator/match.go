package evaluator

import (
	"strconv"
	"strings"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/cache"
)

// match evaluates a MATCH record's operator against d's property.
//
// An absent property fails every operator except empty (absent counts as
// empty) and contains_not (nothing to contain). sibling_contains reads the
// property on d's siblings, not on d, so d need not carry it.
func (e *Evaluator) match(d *device.Device, r cache.Record) bool {
	key := r.Key()
	rhs := r.Value()
	val, err := d.Property(key)
	present := err == nil

	switch r.Match {
	case fdi.MatchExists:
		return present

	case fdi.MatchEmpty:
		if !present {
			return true
		}
		switch val.Type() {
		case device.TypeString:
			return val.AsString() == ""
		case device.TypeStrList:
			return len(val.AsStrList()) == 0
		default:
			return false
		}

	case fdi.MatchContainsNot:
		if !present {
			return true
		}
		return val.Type() == device.TypeString &&
			!strings.Contains(val.AsString(), rhs)

	case fdi.MatchSiblingContains:
		return e.siblingContains(d, key, rhs)
	}

	if !present {
		return false
	}

	switch r.Match {
	case fdi.MatchString:
		return val.Type() == device.TypeString && val.AsString() == rhs

	case fdi.MatchInt:
		n, err := strconv.ParseInt(rhs, 10, 32)
		return err == nil && val.Type() == device.TypeInt32 && val.AsInt32() == int32(n)

	case fdi.MatchUint64:
		n, err := strconv.ParseUint(rhs, 10, 64)
		return err == nil && val.Type() == device.TypeUint64 && val.AsUint64() == n

	case fdi.MatchBool:
		if val.Type() != device.TypeBool {
			return false
		}
		switch rhs {
		case "true":
			return val.AsBool()
		case "false":
			return !val.AsBool()
		default:
			return false
		}

	case fdi.MatchDouble:
		f, err := strconv.ParseFloat(rhs, 64)
		// IEEE-754 equality: a NaN property never matches anything.
		return err == nil && val.Type() == device.TypeDouble && val.AsDouble() == f

	case fdi.MatchIsASCII:
		if val.Type() != device.TypeString {
			return false
		}
		s := val.AsString()
		for i := 0; i < len(s); i++ {
			if s[i] >= 0x80 {
				return false
			}
		}
		return true

	case fdi.MatchIsAbsPath:
		return val.Type() == device.TypeString &&
			strings.HasPrefix(val.AsString(), "/")

	case fdi.MatchContains:
		return containsValue(val, rhs, false)

	case fdi.MatchContainsNcase:
		return containsValue(val, rhs, true)

	case fdi.MatchPrefix:
		return val.Type() == device.TypeString &&
			strings.HasPrefix(val.AsString(), rhs)

	case fdi.MatchPrefixNcase:
		return val.Type() == device.TypeString &&
			strings.HasPrefix(strings.ToLower(val.AsString()), strings.ToLower(rhs))

	case fdi.MatchSuffix:
		return val.Type() == device.TypeString &&
			strings.HasSuffix(val.AsString(), rhs)

	case fdi.MatchSuffixNcase:
		return val.Type() == device.TypeString &&
			strings.HasSuffix(strings.ToLower(val.AsString()), strings.ToLower(rhs))

	case fdi.MatchCompareLt, fdi.MatchCompareLe, fdi.MatchCompareGt,
		fdi.MatchCompareGe, fdi.MatchCompareNe:
		return compareNumeric(val, rhs, r.Match)

	case fdi.MatchContainsOutof:
		return anyOutof(rhs, func(alt string) bool {
			return containsValue(val, alt, false)
		})

	case fdi.MatchIntOutof:
		if val.Type() != device.TypeInt32 {
			return false
		}
		return anyOutof(rhs, func(alt string) bool {
			n, err := strconv.ParseInt(alt, 10, 32)
			return err == nil && val.AsInt32() == int32(n)
		})

	case fdi.MatchPrefixOutof:
		if val.Type() != device.TypeString {
			return false
		}
		return anyOutof(rhs, func(alt string) bool {
			return strings.HasPrefix(val.AsString(), alt)
		})

	case fdi.MatchStringOutof:
		if val.Type() != device.TypeString {
			return false
		}
		return anyOutof(rhs, func(alt string) bool {
			return val.AsString() == alt
		})

	default:
		e.logger.Warn("unknown match operator", "operator", uint32(r.Match), "key", key)
		return false
	}
}

// containsValue implements substring match on strings and membership on
// string lists.
func containsValue(val device.Value, rhs string, foldCase bool) bool {
	switch val.Type() {
	case device.TypeString:
		if foldCase {
			return strings.Contains(strings.ToLower(val.AsString()), strings.ToLower(rhs))
		}
		return strings.Contains(val.AsString(), rhs)
	case device.TypeStrList:
		for _, elem := range val.AsStrList() {
			if foldCase {
				if strings.EqualFold(elem, rhs) {
					return true
				}
			} else if elem == rhs {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareNumeric orders an int32, uint64 or double property against the
// right-hand side parsed in the property's own domain.
func compareNumeric(val device.Value, rhs string, op fdi.MatchType) bool {
	var cmp int // -1, 0, +1 of property relative to rhs
	switch val.Type() {
	case device.TypeInt32:
		n, err := strconv.ParseInt(rhs, 10, 32)
		if err != nil {
			return false
		}
		cmp = compareOrdered(int64(val.AsInt32()), n)
	case device.TypeUint64:
		n, err := strconv.ParseUint(rhs, 10, 64)
		if err != nil {
			return false
		}
		cmp = compareOrdered(val.AsUint64(), n)
	case device.TypeDouble:
		f, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false
		}
		p := val.AsDouble()
		// NaN is unordered: only compare_ne can be true.
		if p != p || f != f {
			return op == fdi.MatchCompareNe
		}
		cmp = compareOrdered(p, f)
	default:
		return false
	}

	switch op {
	case fdi.MatchCompareLt:
		return cmp < 0
	case fdi.MatchCompareLe:
		return cmp <= 0
	case fdi.MatchCompareGt:
		return cmp > 0
	case fdi.MatchCompareGe:
		return cmp >= 0
	default: // compare_ne
		return cmp != 0
	}
}

func compareOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// siblingContains reports whether some published device sharing d's parent
// has a string (or strlist) property key containing rhs.
func (e *Evaluator) siblingContains(d *device.Device, key, rhs string) bool {
	parent := d.ParentUDI()
	if parent == "" {
		return false
	}
	for _, sib := range e.store.GDLSnapshot() {
		if sib == d || sib.ParentUDI() != parent {
			continue
		}
		if val, err := sib.Property(key); err == nil && containsValue(val, rhs, false) {
			return true
		}
	}
	return false
}

// anyOutof splits a ';'-separated alternative list and reports whether any
// alternative satisfies pred.
func anyOutof(rhs string, pred func(string) bool) bool {
	for _, alt := range strings.Split(rhs, ";") {
		if pred(alt) {
			return true
		}
	}
	return false
}
