package compiler

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/hal-core/internal/fdi"
)

// fileContext holds the per-file compile state: the rule being assembled
// and the stack of open MATCH/SPAWN blocks awaiting their jump target.
type fileContext struct {
	w     *blobWriter
	depth int
	// blockAtDepth records the position of the MATCH or SPAWN record that
	// opened each nesting level.
	blockAtDepth [fdi.MaxIndentDepth]uint32

	pending *record
}

// compileFile parses one .fdi file and appends its rule stream to the
// writer, terminated by an EOF sentinel carrying the filename. On any
// error the caller truncates the writer back to the file's start offset.
func compileFile(w *blobWriter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	fc := &fileContext{w: w}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := fc.startElement(t); err != nil {
				return err
			}
		case xml.CharData:
			fc.charData(t)
		case xml.EndElement:
			if err := fc.endElement(t); err != nil {
				return err
			}
		}
	}
	if fc.depth != 0 {
		return fmt.Errorf("%w: %d unclosed blocks", ErrMalformedXML, fc.depth)
	}
	if fc.pending != nil {
		return fmt.Errorf("%w: dangling %s rule", ErrMalformedXML, fc.pending.rtype)
	}

	// Terminate the file's rule stream with a sentinel naming the source,
	// so cache walkers can attribute records in diagnostics.
	w.writeRecord(&record{rtype: fdi.RuleEOF, key: path})
	return nil
}

func (fc *fileContext) startElement(el xml.StartElement) error {
	// A new tag while a value-carrying rule is still open means the
	// document nests something inside e.g. <merge>; flush what we have,
	// matching the forgiveness of the original expat walk.
	if fc.pending != nil {
		fc.w.writeRecord(fc.pending)
		fc.pending = nil
	}

	rtype := fdi.ParseRuleType(el.Name.Local)
	if rtype == fdi.RuleUnknown {
		// Structural tags: deviceinfo, device. Nothing to emit.
		return nil
	}

	r := &record{rtype: rtype}
	for _, attr := range el.Attr {
		switch {
		case attr.Name.Local == "key":
			if r.key != "" {
				return fmt.Errorf("%w: key already defined", ErrBadRule)
			}
			r.key = attr.Value
		case rtype == fdi.RuleSpawn && attr.Name.Local == "udi":
			if r.key != "" {
				return fmt.Errorf("%w: key already defined", ErrBadRule)
			}
			r.key = attr.Value
		case rtype == fdi.RuleMatch:
			if r.key == "" {
				return fmt.Errorf("%w: value without a key", ErrBadRule)
			}
			r.matchType = fdi.ParseMatchType(attr.Name.Local)
			if r.matchType == fdi.MatchUnknown {
				return fmt.Errorf("%w: unknown match operator %q", ErrBadRule, attr.Name.Local)
			}
			r.value = []byte(attr.Value)
			r.hasValue = true
		case attr.Name.Local == "type":
			r.mergeType = fdi.ParseMergeType(attr.Value)
			if r.mergeType == fdi.MergeUnknown {
				return fmt.Errorf("%w: unknown merge type %q", ErrBadRule, attr.Value)
			}
		}
	}
	if r.key == "" {
		return fmt.Errorf("%w: key not found on <%s>", ErrBadRule, el.Name.Local)
	}

	switch rtype {
	case fdi.RuleMatch, fdi.RuleSpawn:
		// Block openers are written immediately so nested rules follow
		// them; the jump target is patched when the block closes.
		pos := fc.w.writeRecord(r)
		if fc.depth >= fdi.MaxIndentDepth {
			return fmt.Errorf("%w: deeper than %d", ErrDepthOverflow, fdi.MaxIndentDepth)
		}
		fc.blockAtDepth[fc.depth] = pos
		fc.depth++
	default:
		// Value arrives as character data; hold the record open.
		fc.pending = r
	}
	return nil
}

func (fc *fileContext) charData(data xml.CharData) {
	if fc.pending == nil {
		return
	}
	switch fc.pending.rtype {
	case fdi.RuleMerge, fdi.RuleAppend, fdi.RulePrepend, fdi.RuleAddSet, fdi.RuleRemove:
		fc.pending.value = append(fc.pending.value, data...)
		fc.pending.hasValue = true
	}
}

func (fc *fileContext) endElement(el xml.EndElement) error {
	rtype := fdi.ParseRuleType(el.Name.Local)
	if rtype == fdi.RuleUnknown {
		return nil
	}

	if rtype == fdi.RuleMatch || rtype == fdi.RuleSpawn {
		if fc.pending != nil {
			// A value rule directly inside the closing block; flush it
			// before the jump target is computed so it stays in-block.
			fc.w.writeRecord(fc.pending)
			fc.pending = nil
		}
		if fc.depth == 0 {
			return fmt.Errorf("%w: </%s> without opener", ErrDepthUnderrun, el.Name.Local)
		}
		fc.depth--
		fc.w.patchJump(fc.blockAtDepth[fc.depth], fc.w.pos())
		return nil
	}

	if fc.pending == nil || fc.pending.rtype != rtype {
		return fmt.Errorf("%w: unexpected </%s>", ErrBadRule, el.Name.Local)
	}
	fc.w.writeRecord(fc.pending)
	fc.pending = nil
	return nil
}
