package fdi

// RuleType identifies a rule record in the compiled cache. The numeric
// values are part of the cache format and must not be reordered.
type RuleType uint32

// Rule record kinds.
const (
	RuleUnknown RuleType = iota
	RuleMatch
	RuleMerge
	RuleAppend
	RulePrepend
	RuleRemove
	RuleClear
	RuleSpawn
	RuleEOF
	RuleAddSet
)

// String returns the XML tag name for the rule kind.
func (t RuleType) String() string {
	switch t {
	case RuleMatch:
		return "match"
	case RuleMerge:
		return "merge"
	case RuleAppend:
		return "append"
	case RulePrepend:
		return "prepend"
	case RuleRemove:
		return "remove"
	case RuleClear:
		return "clear"
	case RuleSpawn:
		return "spawn"
	case RuleEOF:
		return "eof"
	case RuleAddSet:
		return "addset"
	default:
		return "unknown"
	}
}

// ParseRuleType maps an XML element name to its rule kind.
// Unrecognized tags (deviceinfo, device, ...) yield RuleUnknown.
func ParseRuleType(tag string) RuleType {
	switch tag {
	case "match":
		return RuleMatch
	case "merge":
		return RuleMerge
	case "append":
		return RuleAppend
	case "prepend":
		return RulePrepend
	case "addset":
		return RuleAddSet
	case "remove":
		return RuleRemove
	case "clear":
		return RuleClear
	case "spawn":
		return RuleSpawn
	default:
		return RuleUnknown
	}
}

// MatchType identifies the operator of a MATCH record. The numeric values
// are part of the cache format and must not be reordered.
type MatchType uint32

// Match operators.
const (
	MatchUnknown MatchType = iota
	MatchString
	MatchInt
	MatchUint64
	MatchBool
	MatchExists
	MatchEmpty
	MatchIsASCII
	MatchIsAbsPath
	MatchContains
	MatchContainsNcase
	MatchPrefix
	MatchPrefixNcase
	MatchSuffix
	MatchSuffixNcase
	MatchCompareLt
	MatchCompareLe
	MatchCompareGt
	MatchCompareGe
	MatchSiblingContains
	MatchCompareNe
	MatchContainsNot
	MatchDouble
	MatchContainsOutof
	MatchIntOutof
	MatchPrefixOutof
	MatchStringOutof
)

// ParseMatchType maps a <match> attribute name to its operator.
func ParseMatchType(attr string) MatchType {
	switch attr {
	case "string":
		return MatchString
	case "int":
		return MatchInt
	case "uint64":
		return MatchUint64
	case "bool":
		return MatchBool
	case "double":
		return MatchDouble
	case "exists":
		return MatchExists
	case "empty":
		return MatchEmpty
	case "is_ascii":
		return MatchIsASCII
	case "is_absolute_path":
		return MatchIsAbsPath
	case "sibling_contains":
		return MatchSiblingContains
	case "contains":
		return MatchContains
	case "contains_ncase":
		return MatchContainsNcase
	case "prefix":
		return MatchPrefix
	case "prefix_ncase":
		return MatchPrefixNcase
	case "suffix":
		return MatchSuffix
	case "suffix_ncase":
		return MatchSuffixNcase
	case "compare_lt":
		return MatchCompareLt
	case "compare_le":
		return MatchCompareLe
	case "compare_gt":
		return MatchCompareGt
	case "compare_ge":
		return MatchCompareGe
	case "compare_ne":
		return MatchCompareNe
	case "contains_not":
		return MatchContainsNot
	case "contains_outof":
		return MatchContainsOutof
	case "int_outof":
		return MatchIntOutof
	case "prefix_outof":
		return MatchPrefixOutof
	case "string_outof":
		return MatchStringOutof
	default:
		return MatchUnknown
	}
}

// MergeType identifies the value type of a merge-family record. The numeric
// values are part of the cache format and must not be reordered.
type MergeType uint32

// Merge value types.
const (
	MergeUnknown MergeType = iota
	MergeString
	MergeBoolean
	MergeInt32
	MergeUint64
	MergeDouble
	MergeCopyProperty
	MergeStrList
	MergeRemove
)

// ParseMergeType maps a type="..." attribute value to its merge type.
func ParseMergeType(s string) MergeType {
	switch s {
	case "string":
		return MergeString
	case "bool":
		return MergeBoolean
	case "int":
		return MergeInt32
	case "uint64":
		return MergeUint64
	case "double":
		return MergeDouble
	case "strlist":
		return MergeStrList
	case "copy_property":
		return MergeCopyProperty
	case "remove":
		return MergeRemove
	default:
		return MergeUnknown
	}
}

// Phase selects one of the three rule regions of the cache.
type Phase int

// Rule phases, applied to a device in this order during discovery.
const (
	PhasePreprobe Phase = iota
	PhaseInformation
	PhasePolicy
)

// String returns the phase's directory name.
func (p Phase) String() string {
	switch p {
	case PhasePreprobe:
		return "preprobe"
	case PhaseInformation:
		return "information"
	case PhasePolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Phases lists all phases in application order.
func Phases() []Phase {
	return []Phase{PhasePreprobe, PhaseInformation, PhasePolicy}
}

// Cache binary layout. All offsets are absolute from the start of the blob,
// little-endian, aligned to RecordAlign.
//
// Header:
//
//	offset  0: uint32 fdi_rules_preprobe
//	offset  4: uint32 fdi_rules_information
//	offset  8: uint32 fdi_rules_policy
//	offset 12: uint32 all_rules_size
//	offset 16: 4 NUL bytes (the shared empty string)
//
// Record:
//
//	uint32 rule_size      bytes to the next record
//	uint32 jump_position  MATCH/SPAWN: first record past the block
//	uint32 rtype
//	uint32 type_match
//	uint32 type_merge
//	uint32 value_offset   absolute; EmptyStringOffset when no value
//	uint32 value_len      includes the NUL
//	uint32 key_len        includes the NUL
//	key bytes, NUL, pad to 4; value bytes, NUL, pad to 4
const (
	HeaderSize        = 20
	EmptyStringOffset = 16
	RecordHeaderSize  = 32
	RecordAlign       = 4

	// MaxIndentDepth bounds <match>/<spawn> nesting in a single file.
	MaxIndentDepth = 64
)

// Align4 rounds n up to the record alignment.
func Align4(n uint32) uint32 {
	return (n + RecordAlign - 1) &^ uint32(RecordAlign-1)
}
