package dbus

import (
	godbus "github.com/godbus/dbus/v5"
)

// Manager is the org.freedesktop.Hal.Manager object. Every method hops
// onto the daemon loop for its store access.
type Manager struct {
	s *Service
}

// GetAllDevices returns the UDIs of every published device.
func (m *Manager) GetAllDevices() ([]string, *godbus.Error) {
	var udis []string
	m.s.loop.Wait(func() {
		for _, d := range m.s.store.GDLSnapshot() {
			udis = append(udis, d.UDI())
		}
	})
	if udis == nil {
		udis = []string{}
	}
	return udis, nil
}

// DeviceExists reports whether udi names a published device.
func (m *Manager) DeviceExists(udi string) (bool, *godbus.Error) {
	var exists bool
	m.s.loop.Wait(func() {
		_, exists = m.s.store.FindGDL(udi)
	})
	return exists, nil
}

// FindDeviceStringMatch returns the published devices whose string
// property key equals value.
func (m *Manager) FindDeviceStringMatch(key, value string) ([]string, *godbus.Error) {
	if key == "" {
		return nil, syntaxError("empty property key")
	}
	var udis []string
	m.s.loop.Wait(func() {
		for _, d := range m.s.store.FindByString(key, value) {
			udis = append(udis, d.UDI())
		}
	})
	if udis == nil {
		udis = []string{}
	}
	return udis, nil
}

// FindDeviceByCapability returns the published devices carrying the
// capability.
func (m *Manager) FindDeviceByCapability(capability string) ([]string, *godbus.Error) {
	if capability == "" {
		return nil, syntaxError("empty capability")
	}
	var udis []string
	m.s.loop.Wait(func() {
		for _, d := range m.s.store.FindByCapability(capability) {
			udis = append(udis, d.UDI())
		}
	})
	if udis == nil {
		udis = []string{}
	}
	return udis, nil
}
