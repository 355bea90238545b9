package mounts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Well-known paths of the mount-state file and its lock.
const (
	DefaultMtabPath = "/media/.hal-mtab"
	DefaultLockPath = "/media/.hal-mtab-lock"
)

// Properties kept in sync with the mount-state file on block devices.
const (
	PropBlockDevice = "block.device"
	PropIsMounted   = "volume.is_mounted"
	PropMountPoint  = "volume.mount_point"
)

// ErrMalformedEntry is returned for a line that is not six tab-separated
// fields with a decimal UID.
var ErrMalformedEntry = errors.New("mounts: malformed mtab entry")

// Entry is one record of the mount-state file: who mounted which device
// where. The file is the authoritative record shared with the storage
// helper tools.
type Entry struct {
	Device     string
	UID        uint32
	SessionID  string
	FSType     string
	Options    []string
	MountPoint string
}

// ParseEntries reads the tab-separated mount-state format. Lines beginning
// with '#' are comments; blank lines are ignored. A malformed line aborts
// the parse: helpers take the lock before writing, so a torn file means
// something outside the protocol touched it.
func ParseEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 6 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedEntry, line, len(fields))
		}
		uid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d uid %q", ErrMalformedEntry, line, fields[1])
		}
		var options []string
		if fields[4] != "" {
			options = strings.Split(fields[4], ",")
		}
		entries = append(entries, Entry{
			Device:     fields[0],
			UID:        uint32(uid),
			SessionID:  fields[2],
			FSType:     fields[3],
			Options:    options,
			MountPoint: fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mtab: %w", err)
	}
	return entries, nil
}

// FormatEntries writes entries in the tab-separated format.
func FormatEntries(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		_, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Device, e.UID, e.SessionID, e.FSType,
			strings.Join(e.Options, ","), e.MountPoint)
		if err != nil {
			return fmt.Errorf("writing mtab: %w", err)
		}
	}
	return nil
}

// FileLock is the advisory exclusive lock guarding the mount-state file.
// Both readers and writers take it; the helpers hold it while they edit.
type FileLock struct {
	f *os.File
}

// AcquireLock blocks until the exclusive lock on path is held.
func AcquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// TryAcquireLock takes the lock without blocking; ok is false when some
// other process holds it.
func TryAcquireLock(path string) (lock *FileLock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("locking %s: %w", path, err)
	}
	return &FileLock{f: f}, true, nil
}

// Release drops the lock. Safe to call once.
func (l *FileLock) Release() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// ReadMtab takes the lock and reads the mount-state file. An absent file
// is an empty mount table, not an error.
func ReadMtab(mtabPath, lockPath string) ([]Entry, error) {
	lock, err := AcquireLock(lockPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	f, err := os.Open(mtabPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening mtab: %w", err)
	}
	defer f.Close()
	return ParseEntries(f)
}

// WriteMtab takes the lock and atomically replaces the mount-state file:
// entries are written to a '~' sibling which is renamed over the target.
func WriteMtab(mtabPath, lockPath string, entries []Entry) error {
	lock, err := AcquireLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	tmp := mtabPath + "~"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if err := FormatEntries(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, mtabPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
