package device

// Device is a single hardware device: a stable identity (the UDI), an
// ordered collection of typed properties, and an optional parent reference.
//
// Devices are created by Store.NewDevice in the temporary device list and
// become observable on IPC only after Store.CommitToGDL. All mutation goes
// through the Store so that change notification, atomic-update batching and
// pending-wait resolution stay consistent; Device itself exposes only reads,
// apart from SetParentUDI.
//
// Thread Safety:
//   - Not safe for concurrent use. The store and every device it owns belong
//     to the daemon event loop.
type Device struct {
	udi       string
	inGDL     bool
	parentUDI string

	// props preserves insertion order; index is the lookup side.
	props []*Property
	index map[string]*Property
}

func newDevice(udi string) *Device {
	return &Device{
		udi:   udi,
		index: make(map[string]*Property),
	}
}

// UDI returns the device's unique device identifier.
func (d *Device) UDI() string { return d.udi }

// InGDL reports whether the device is published in the global device list.
func (d *Device) InGDL() bool { return d.inGDL }

// ParentUDI returns the UDI of the parent device, or "" if the device has no
// parent. The reference is weak: the parent may have been removed already.
func (d *Device) ParentUDI() string { return d.parentUDI }

// SetParentUDI records the parent reference. The parent is resolved lazily;
// it does not need to exist yet.
func (d *Device) SetParentUDI(udi string) { d.parentUDI = udi }

// NumProperties returns the number of properties on the device.
func (d *Device) NumProperties() int { return len(d.props) }

// HasProperty reports whether key is present, regardless of type.
func (d *Device) HasProperty(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Property returns the value stored under key.
// Returns ErrNoSuchProperty if the key is absent.
func (d *Device) Property(key string) (Value, error) {
	p, ok := d.index[key]
	if !ok {
		return Value{}, ErrNoSuchProperty
	}
	return p.Value, nil
}

// PropertyType returns the type of the property stored under key, or
// TypeInvalid if the key is absent.
func (d *Device) PropertyType(key string) Type {
	p, ok := d.index[key]
	if !ok {
		return TypeInvalid
	}
	return p.Value.Type()
}

// GetString returns the string payload of key, or "" if the key is absent
// or not a string.
func (d *Device) GetString(key string) string {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeString {
		return ""
	}
	return p.Value.AsString()
}

// GetInt32 returns the int32 payload of key, or 0 if absent or mistyped.
func (d *Device) GetInt32(key string) int32 {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeInt32 {
		return 0
	}
	return p.Value.AsInt32()
}

// GetUint64 returns the uint64 payload of key, or 0 if absent or mistyped.
func (d *Device) GetUint64(key string) uint64 {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeUint64 {
		return 0
	}
	return p.Value.AsUint64()
}

// GetDouble returns the double payload of key, or 0 if absent or mistyped.
func (d *Device) GetDouble(key string) float64 {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeDouble {
		return 0
	}
	return p.Value.AsDouble()
}

// GetBool returns the bool payload of key, or false if absent or mistyped.
func (d *Device) GetBool(key string) bool {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeBool {
		return false
	}
	return p.Value.AsBool()
}

// GetStrList returns a copy of the strlist payload of key, or nil if the
// key is absent or not a strlist.
func (d *Device) GetStrList(key string) []string {
	p, ok := d.index[key]
	if !ok || p.Value.Type() != TypeStrList {
		return nil
	}
	return p.Value.AsStrList()
}

// HasCapability reports whether capability is present in the
// info.capabilities list.
func (d *Device) HasCapability(capability string) bool {
	p, ok := d.index[PropCapabilities]
	if !ok || p.Value.Type() != TypeStrList {
		return false
	}
	for _, c := range p.Value.strList() {
		if c == capability {
			return true
		}
	}
	return false
}

// Properties returns a snapshot of the device's properties in insertion
// order. The snapshot is safe to hold across store mutations: properties
// removed after the call are still present in the snapshot, but lookups on
// the device will no longer resolve them.
func (d *Device) Properties() []Property {
	out := make([]Property, len(d.props))
	for i, p := range d.props {
		out[i] = *p
	}
	return out
}

// setValue inserts or replaces a property without any notification or
// type checking. Store-internal.
func (d *Device) setValue(key string, v Value) (added bool) {
	if p, ok := d.index[key]; ok {
		p.Value = v
		return false
	}
	p := &Property{Key: key, Value: v}
	d.props = append(d.props, p)
	d.index[key] = p
	return true
}

// removeValue drops a property without notification. Store-internal.
func (d *Device) removeValue(key string) bool {
	if _, ok := d.index[key]; !ok {
		return false
	}
	delete(d.index, key)
	for i, p := range d.props {
		if p.Key == key {
			d.props = append(d.props[:i], d.props[i+1:]...)
			break
		}
	}
	return true
}
