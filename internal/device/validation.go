package device

import (
	"fmt"
	"strings"
)

// Well-known property keys.
const (
	// PropCapabilities is the strlist property holding the device's
	// capability tags.
	PropCapabilities = "info.capabilities"

	// PropUDI mirrors the device's UDI as a regular property so it is
	// visible in property dumps and matchable by rules.
	PropUDI = "info.udi"

	// PropSysfsPath is the join key backends use to correlate kernel
	// events with devices.
	PropSysfsPath = "linux.sysfs_path_device"
)

// TempUDIPrefix is the namespace under which freshly created devices live
// until they are renamed and committed.
const TempUDIPrefix = "/org/freedesktop/Hal/devices/temp/"

const maxKeyLength = 128

// ValidateUDI checks that a UDI is a path-shaped ASCII string: it must
// begin with '/' and contain only [A-Za-z0-9_/.-].
func ValidateUDI(udi string) error {
	if udi == "" || udi[0] != '/' {
		return fmt.Errorf("%w: %q", ErrInvalidUDI, udi)
	}
	for i := 0; i < len(udi); i++ {
		c := udi[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '/' || c == '.' || c == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidUDI, udi)
		}
	}
	return nil
}

// ValidateKey checks that a property key is a non-empty ASCII dotted
// identifier of bounded length. Keys beginning with '.' are legal but
// private: they are never emitted over IPC and never participate in match
// results.
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i := 0; i < len(key); i++ {
		if key[i] >= 0x80 {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// IsPrivateKey reports whether key names a private property. Private
// properties (leading '.') stay inside the daemon: no IPC signal carries
// them and no find operation matches on them.
func IsPrivateKey(key string) bool {
	return strings.HasPrefix(key, ".")
}
