// Package cache provides the read-only view over a compiled FDI rule
// cache. The daemon memory-maps the cache file; every record access is
// bounds-checked against the mapping so a truncated or corrupt cache can
// never walk the reader out of the blob.
package cache

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/hal-core/internal/fdi"
)

// Cache is a parsed view over one cache blob. The zero value is unusable;
// construct with Open or FromBytes.
//
// Thread Safety:
//   - Read-only after construction; safe to share between walkers as long
//     as nobody calls Close concurrently with a walk.
type Cache struct {
	data   []byte
	mapped bool

	preprobe    uint32
	information uint32
	policy      uint32
	total       uint32
}

// Open memory-maps the cache file at path read-only.
func Open(path string) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat cache: %w", err)
	}
	if st.Size() < int64(fdi.HeaderSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, st.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping cache: %w", err)
	}

	c, err := newCache(data, true)
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return c, nil
}

// FromBytes wraps an in-memory blob, typically straight out of the
// compiler. The cache borrows the slice; the caller must not mutate it.
func FromBytes(data []byte) (*Cache, error) {
	return newCache(data, false)
}

func newCache(data []byte, mapped bool) (*Cache, error) {
	if len(data) < fdi.HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	c := &Cache{
		data:        data,
		mapped:      mapped,
		preprobe:    binary.LittleEndian.Uint32(data[0:4]),
		information: binary.LittleEndian.Uint32(data[4:8]),
		policy:      binary.LittleEndian.Uint32(data[8:12]),
		total:       binary.LittleEndian.Uint32(data[12:16]),
	}
	if c.total != uint32(len(data)) {
		return nil, fmt.Errorf("%w: header says %d bytes, file has %d",
			ErrCorrupt, c.total, len(data))
	}
	if c.preprobe > c.information || c.information > c.policy || c.policy > c.total {
		return nil, fmt.Errorf("%w: region offsets out of order", ErrCorrupt)
	}
	return c, nil
}

// Close unmaps the cache. Records obtained from it must not be used
// afterwards. Closing a FromBytes cache is a no-op.
func (c *Cache) Close() error {
	if !c.mapped {
		return nil
	}
	c.mapped = false
	data := c.data
	c.data = nil
	return unix.Munmap(data)
}

// Size returns the blob size in bytes.
func (c *Cache) Size() uint32 { return c.total }

// Region returns the [start, end) offsets of a phase's rule region.
func (c *Cache) Region(p fdi.Phase) (start, end uint32) {
	switch p {
	case fdi.PhasePreprobe:
		return c.preprobe, c.information
	case fdi.PhaseInformation:
		return c.information, c.policy
	default:
		return c.policy, c.total
	}
}

// Record is the decoded header of one rule record plus accessors into the
// blob for its key and value strings.
type Record struct {
	c *Cache

	// Offset is the record's absolute position in the blob.
	Offset uint32

	// Size is the distance to the next record.
	Size uint32

	// Jump is the absolute offset of the first record past this block;
	// meaningful on MATCH and SPAWN records only.
	Jump uint32

	Type  fdi.RuleType
	Match fdi.MatchType
	Merge fdi.MergeType

	valueOffset uint32
	valueLen    uint32
	keyLen      uint32
}

// RecordAt decodes the record at offset off, validating that the header,
// key, value and forward link all stay inside the blob.
func (c *Cache) RecordAt(off uint32) (Record, error) {
	n := uint32(len(c.data))
	if off < fdi.HeaderSize || off+fdi.RecordHeaderSize > n {
		return Record{}, fmt.Errorf("%w: record header at %#x", ErrCorrupt, off)
	}
	get := func(field uint32) uint32 {
		return binary.LittleEndian.Uint32(c.data[off+field*4:])
	}
	r := Record{
		c:           c,
		Offset:      off,
		Size:        get(0),
		Jump:        get(1),
		Type:        fdi.RuleType(get(2)),
		Match:       fdi.MatchType(get(3)),
		Merge:       fdi.MergeType(get(4)),
		valueOffset: get(5),
		valueLen:    get(6),
		keyLen:      get(7),
	}
	if r.Size < fdi.RecordHeaderSize || off+r.Size > n {
		return Record{}, fmt.Errorf("%w: record size %d at %#x", ErrCorrupt, r.Size, off)
	}
	if r.keyLen == 0 || off+fdi.RecordHeaderSize+r.keyLen > n {
		return Record{}, fmt.Errorf("%w: key length %d at %#x", ErrCorrupt, r.keyLen, off)
	}
	if r.valueLen > 0 && (r.valueOffset+r.valueLen > n || r.valueOffset < fdi.HeaderSize) {
		return Record{}, fmt.Errorf("%w: value bounds at %#x", ErrCorrupt, off)
	}
	return r, nil
}

// Key returns the record's embedded key string without the NUL.
func (r Record) Key() string {
	start := r.Offset + fdi.RecordHeaderSize
	return string(r.c.data[start : start+r.keyLen-1])
}

// Value returns the record's value string without the NUL. Records without
// a value yield "".
func (r Record) Value() string {
	if r.valueLen == 0 {
		return ""
	}
	return string(r.c.data[r.valueOffset : r.valueOffset+r.valueLen-1])
}

// HasValue reports whether the record carries a value of its own rather
// than pointing at the shared empty string.
func (r Record) HasValue() bool { return r.valueLen > 0 }

// Iter walks one region's records in storage order.
type Iter struct {
	c   *Cache
	pos uint32
	end uint32
}

// Walk returns an iterator over the region of phase p.
func (c *Cache) Walk(p fdi.Phase) *Iter {
	start, end := c.Region(p)
	return &Iter{c: c, pos: start, end: end}
}

// Next returns the next record, or ok=false at the region boundary.
// A decoding error terminates the walk.
func (it *Iter) Next() (Record, bool, error) {
	if it.pos >= it.end {
		return Record{}, false, nil
	}
	r, err := it.c.RecordAt(it.pos)
	if err != nil {
		return Record{}, false, err
	}
	it.pos += r.Size
	return r, true, nil
}
