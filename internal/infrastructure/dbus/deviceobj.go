package dbus

import (
	"fmt"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/hal-core/internal/device"
)

// DeviceObject is the org.freedesktop.Hal.Device object exported at each
// published device's UDI path. Private properties (keys with a leading
// dot) do not exist as far as the bus is concerned.
type DeviceObject struct {
	s   *Service
	udi string
}

// resolve runs fn on the loop with the device, translating a vanished
// device into NoSuchDevice.
func (o *DeviceObject) resolve(fn func(d *device.Device) error) *godbus.Error {
	err := o.s.loop.Call(func() error {
		d, ok := o.s.store.FindGDL(o.udi)
		if !ok {
			return fmt.Errorf("%w: %s", device.ErrNoSuchDevice, o.udi)
		}
		return fn(d)
	})
	return busError(err)
}

// variantOf converts a store value to its wire form.
func variantOf(v device.Value) godbus.Variant {
	switch v.Type() {
	case device.TypeString:
		return godbus.MakeVariant(v.AsString())
	case device.TypeInt32:
		return godbus.MakeVariant(v.AsInt32())
	case device.TypeUint64:
		return godbus.MakeVariant(v.AsUint64())
	case device.TypeDouble:
		return godbus.MakeVariant(v.AsDouble())
	case device.TypeBool:
		return godbus.MakeVariant(v.AsBool())
	default:
		return godbus.MakeVariant(v.AsStrList())
	}
}

// valueOf converts a wire variant to a store value.
func valueOf(v godbus.Variant) (device.Value, error) {
	switch payload := v.Value().(type) {
	case string:
		return device.StringValue(payload), nil
	case int32:
		return device.Int32Value(payload), nil
	case uint64:
		return device.Uint64Value(payload), nil
	case float64:
		return device.DoubleValue(payload), nil
	case bool:
		return device.BoolValue(payload), nil
	case []string:
		return device.StrListValue(payload), nil
	default:
		return device.Value{}, fmt.Errorf("unsupported variant type %T", payload)
	}
}

// GetAllProperties returns every public property as a variant map.
func (o *DeviceObject) GetAllProperties() (map[string]godbus.Variant, *godbus.Error) {
	out := make(map[string]godbus.Variant)
	derr := o.resolve(func(d *device.Device) error {
		for _, p := range d.Properties() {
			if device.IsPrivateKey(p.Key) {
				continue
			}
			out[p.Key] = variantOf(p.Value)
		}
		return nil
	})
	return out, derr
}

// getValue looks up one public property.
func (o *DeviceObject) getValue(key string) (device.Value, *godbus.Error) {
	var val device.Value
	derr := o.resolve(func(d *device.Device) error {
		if device.IsPrivateKey(key) {
			return fmt.Errorf("%w: %s", device.ErrNoSuchProperty, key)
		}
		v, err := d.Property(key)
		if err != nil {
			return fmt.Errorf("%w: %s", device.ErrNoSuchProperty, key)
		}
		val = v
		return nil
	})
	return val, derr
}

// GetProperty returns the property value as a variant.
func (o *DeviceObject) GetProperty(key string) (godbus.Variant, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return godbus.Variant{}, derr
	}
	return variantOf(val), nil
}

// GetPropertyString returns a string property's payload.
func (o *DeviceObject) GetPropertyString(key string) (string, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return "", derr
	}
	if val.Type() != device.TypeString {
		return "", busError(fmt.Errorf("%w: %s is %s", device.ErrTypeMismatch, key, val.Type()))
	}
	return val.AsString(), nil
}

// GetPropertyInteger returns an int32 property's payload.
func (o *DeviceObject) GetPropertyInteger(key string) (int32, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return 0, derr
	}
	if val.Type() != device.TypeInt32 {
		return 0, busError(fmt.Errorf("%w: %s is %s", device.ErrTypeMismatch, key, val.Type()))
	}
	return val.AsInt32(), nil
}

// GetPropertyBoolean returns a bool property's payload.
func (o *DeviceObject) GetPropertyBoolean(key string) (bool, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return false, derr
	}
	if val.Type() != device.TypeBool {
		return false, busError(fmt.Errorf("%w: %s is %s", device.ErrTypeMismatch, key, val.Type()))
	}
	return val.AsBool(), nil
}

// GetPropertyDouble returns a double property's payload.
func (o *DeviceObject) GetPropertyDouble(key string) (float64, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return 0, derr
	}
	if val.Type() != device.TypeDouble {
		return 0, busError(fmt.Errorf("%w: %s is %s", device.ErrTypeMismatch, key, val.Type()))
	}
	return val.AsDouble(), nil
}

// GetPropertyType returns the type name of a property: string, int,
// uint64, double, bool or strlist.
func (o *DeviceObject) GetPropertyType(key string) (string, *godbus.Error) {
	val, derr := o.getValue(key)
	if derr != nil {
		return "", derr
	}
	return val.Type().String(), nil
}

// PropertyExists reports whether the public property is present.
func (o *DeviceObject) PropertyExists(key string) (bool, *godbus.Error) {
	var exists bool
	derr := o.resolve(func(d *device.Device) error {
		exists = !device.IsPrivateKey(key) && d.HasProperty(key)
		return nil
	})
	return exists, derr
}

// setValue writes one property with set-if-different semantics.
func (o *DeviceObject) setValue(key string, val device.Value) *godbus.Error {
	if device.IsPrivateKey(key) {
		return syntaxError("private keys are not settable over the bus")
	}
	return o.resolve(func(d *device.Device) error {
		return o.s.store.SetProperty(d, key, val)
	})
}

// SetProperty sets key from a variant payload.
func (o *DeviceObject) SetProperty(key string, value godbus.Variant) *godbus.Error {
	val, err := valueOf(value)
	if err != nil {
		return syntaxError(err.Error())
	}
	return o.setValue(key, val)
}

// SetPropertyString sets a string property.
func (o *DeviceObject) SetPropertyString(key, value string) *godbus.Error {
	return o.setValue(key, device.StringValue(value))
}

// SetPropertyInteger sets an int32 property.
func (o *DeviceObject) SetPropertyInteger(key string, value int32) *godbus.Error {
	return o.setValue(key, device.Int32Value(value))
}

// SetPropertyBoolean sets a bool property.
func (o *DeviceObject) SetPropertyBoolean(key string, value bool) *godbus.Error {
	return o.setValue(key, device.BoolValue(value))
}

// SetPropertyDouble sets a double property.
func (o *DeviceObject) SetPropertyDouble(key string, value float64) *godbus.Error {
	return o.setValue(key, device.DoubleValue(value))
}

// RemoveProperty removes a public property.
func (o *DeviceObject) RemoveProperty(key string) *godbus.Error {
	if device.IsPrivateKey(key) {
		return busError(fmt.Errorf("%w: %s", device.ErrNoSuchProperty, key))
	}
	return o.resolve(func(d *device.Device) error {
		return o.s.store.RemoveProperty(d, key)
	})
}

// AddCapability adds a capability tag; idempotent.
func (o *DeviceObject) AddCapability(capability string) *godbus.Error {
	if capability == "" {
		return syntaxError("empty capability")
	}
	return o.resolve(func(d *device.Device) error {
		return o.s.store.AddCapability(d, capability)
	})
}

// QueryCapability reports whether the device carries the capability.
func (o *DeviceObject) QueryCapability(capability string) (bool, *godbus.Error) {
	var has bool
	derr := o.resolve(func(d *device.Device) error {
		has = d.HasCapability(capability)
		return nil
	})
	return has, derr
}
