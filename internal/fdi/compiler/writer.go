package compiler

import (
	"encoding/binary"

	"github.com/nerrad567/hal-core/internal/fdi"
)

// blobWriter accumulates the cache blob in memory. Records are appended at
// 4-byte aligned positions; MATCH and SPAWN records are backpatched with
// their jump target once the block they open closes.
type blobWriter struct {
	buf []byte
}

func newBlobWriter() *blobWriter {
	// The header is all zeroes at this point, which conveniently also
	// provides the shared empty string at EmptyStringOffset. Region
	// offsets and the total size are patched in at the end.
	return &blobWriter{buf: make([]byte, fdi.HeaderSize)}
}

// pos returns the aligned position the next record will occupy.
func (w *blobWriter) pos() uint32 {
	return fdi.Align4(uint32(len(w.buf)))
}

// size returns the current unpadded blob size.
func (w *blobWriter) size() uint32 {
	return uint32(len(w.buf))
}

// truncate discards everything at and after off. Used to elide a malformed
// source file from the region being built.
func (w *blobWriter) truncate(off uint32) {
	w.buf = w.buf[:off]
}

func (w *blobWriter) padTo(off uint32) {
	for uint32(len(w.buf)) < off {
		w.buf = append(w.buf, 0)
	}
}

func (w *blobWriter) putU32(off, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:off+4], v)
}

func (w *blobWriter) appendU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// record describes one rule ready for serialization. Value is the raw
// value bytes without the terminating NUL; hasValue distinguishes "no
// value" (points at the header's empty string) from an empty value.
type record struct {
	jump      uint32
	rtype     fdi.RuleType
	matchType fdi.MatchType
	mergeType fdi.MergeType
	key       string
	value     []byte
	hasValue  bool
}

// writeRecord serializes r at the next aligned position and returns that
// position.
func (w *blobWriter) writeRecord(r *record) uint32 {
	pos := w.pos()
	w.padTo(pos)

	keyLen := uint32(len(r.key)) + 1 // includes NUL

	valueLen := uint32(0)
	valueOffset := uint32(fdi.EmptyStringOffset)
	if r.hasValue && len(r.value) > 0 {
		valueLen = uint32(len(r.value)) + 1 // includes NUL
		valueOffset = pos + fdi.RecordHeaderSize + fdi.Align4(keyLen)
	}

	ruleSize := fdi.Align4(fdi.RecordHeaderSize + fdi.Align4(keyLen) + fdi.Align4(valueLen))

	w.appendU32(ruleSize)
	w.appendU32(r.jump)
	w.appendU32(uint32(r.rtype))
	w.appendU32(uint32(r.matchType))
	w.appendU32(uint32(r.mergeType))
	w.appendU32(valueOffset)
	w.appendU32(valueLen)
	w.appendU32(keyLen)

	w.buf = append(w.buf, r.key...)
	w.buf = append(w.buf, 0)
	w.padTo(pos + fdi.RecordHeaderSize + fdi.Align4(keyLen))

	if valueLen > 0 {
		w.buf = append(w.buf, r.value...)
		w.buf = append(w.buf, 0)
	}
	w.padTo(pos + ruleSize)

	return pos
}

// patchJump writes the jump target of the record at recordPos.
func (w *blobWriter) patchJump(recordPos, target uint32) {
	w.putU32(recordPos+4, target)
}
