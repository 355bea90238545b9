package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/cache"
)

func writeFDI(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testSources maps all three phases to empty temp dirs and returns them.
func testSources(t *testing.T) (Sources, string, string, string) {
	t.Helper()
	pre, info, pol := t.TempDir(), t.TempDir(), t.TempDir()
	return Sources{
		Preprobe:    []string{pre},
		Information: []string{info},
		Policy:      []string{pol},
	}, pre, info, pol
}

func compileAndView(t *testing.T, sources Sources) (*Result, *cache.Cache) {
	t.Helper()
	res, err := New(nil).Compile(sources)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	c, err := cache.FromBytes(res.Blob)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return res, c
}

// collect returns all records of a region, separating the EOF sentinels.
func collect(t *testing.T, c *cache.Cache, p fdi.Phase) (rules, eofs []cache.Record) {
	t.Helper()
	it := c.Walk(p)
	for {
		r, ok, err := it.Next()
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		if !ok {
			return rules, eofs
		}
		if r.Type == fdi.RuleEOF {
			eofs = append(eofs, r)
		} else {
			rules = append(rules, r)
		}
	}
}

// Scenario S3: one merge compiles to exactly one MERGE record that walks
// back out with the same key, type and value.
func TestCompileSingleMergeRoundTrip(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "10-vendor.fdi", `<?xml version="1.0" encoding="UTF-8"?>
<deviceinfo version="0.2">
 <device>
  <merge key="info.vendor" type="string">ACME</merge>
 </device>
</deviceinfo>
`)

	res, c := compileAndView(t, sources)
	if res.Skipped != 0 {
		t.Fatalf("Skipped = %d", res.Skipped)
	}

	rules, eofs := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 1 {
		t.Fatalf("information rules = %d, want 1", len(rules))
	}
	r := rules[0]
	if r.Type != fdi.RuleMerge || r.Merge != fdi.MergeString {
		t.Errorf("record = %v/%v, want merge/string", r.Type, r.Merge)
	}
	if r.Key() != "info.vendor" || r.Value() != "ACME" {
		t.Errorf("key/value = %q/%q", r.Key(), r.Value())
	}
	if len(eofs) != 1 {
		t.Fatalf("eof records = %d, want 1", len(eofs))
	}
	if got := eofs[0].Key(); filepath.Base(got) != "10-vendor.fdi" {
		t.Errorf("eof key = %q", got)
	}

	// The other regions hold nothing.
	if pre, _ := collect(t, c, fdi.PhasePreprobe); len(pre) != 0 {
		t.Errorf("preprobe rules = %d", len(pre))
	}
	if pol, _ := collect(t, c, fdi.PhasePolicy); len(pol) != 0 {
		t.Errorf("policy rules = %d", len(pol))
	}
}

// Testable property 4: each source rule survives as the same
// (rtype, type_match, type_merge, key, value) tuple.
func TestCompileFidelityAcrossRuleKinds(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "10-kinds.fdi", `<deviceinfo>
 <device>
  <match key="info.bus" string="usb">
   <merge key="usb.max_power" type="int">500</merge>
   <append key="info.product" type="string"> (USB)</append>
   <prepend key="info.vendor" type="string">ACME </prepend>
   <addset key="info.capabilities" type="strlist">block</addset>
   <remove key="info.ignore" type="bool">true</remove>
   <clear key="info.stale"/>
  </match>
 </device>
</deviceinfo>
`)

	_, c := compileAndView(t, sources)
	rules, _ := collect(t, c, fdi.PhaseInformation)

	type tuple struct {
		rtype fdi.RuleType
		tm    fdi.MatchType
		tg    fdi.MergeType
		key   string
		value string
	}
	want := []tuple{
		{fdi.RuleMatch, fdi.MatchString, fdi.MergeUnknown, "info.bus", "usb"},
		{fdi.RuleMerge, fdi.MatchUnknown, fdi.MergeInt32, "usb.max_power", "500"},
		{fdi.RuleAppend, fdi.MatchUnknown, fdi.MergeString, "info.product", " (USB)"},
		{fdi.RulePrepend, fdi.MatchUnknown, fdi.MergeString, "info.vendor", "ACME "},
		{fdi.RuleAddSet, fdi.MatchUnknown, fdi.MergeStrList, "info.capabilities", "block"},
		{fdi.RuleRemove, fdi.MatchUnknown, fdi.MergeBoolean, "info.ignore", "true"},
		{fdi.RuleClear, fdi.MatchUnknown, fdi.MergeUnknown, "info.stale", ""},
	}
	if len(rules) != len(want) {
		t.Fatalf("rules = %d, want %d", len(rules), len(want))
	}
	for i, w := range want {
		r := rules[i]
		if r.Type != w.rtype || r.Match != w.tm || r.Merge != w.tg ||
			r.Key() != w.key || r.Value() != w.value {
			t.Errorf("rule %d = %v/%v/%v %q=%q, want %v/%v/%v %q=%q",
				i, r.Type, r.Match, r.Merge, r.Key(), r.Value(),
				w.rtype, w.tm, w.tg, w.key, w.value)
		}
	}
}

func TestCompileJumpDelimitsMatchBlock(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "10-jump.fdi", `<deviceinfo>
 <device>
  <match key="info.bus" string="usb">
   <match key="usb.product_id" int="42">
    <merge key="info.product" type="string">Widget</merge>
   </match>
   <merge key="usb.seen" type="bool">true</merge>
  </match>
  <merge key="info.outside" type="bool">true</merge>
 </device>
</deviceinfo>
`)

	_, c := compileAndView(t, sources)
	rules, eofs := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 5 {
		t.Fatalf("rules = %d, want 5", len(rules))
	}

	outer, inner := rules[0], rules[1]
	seen, outside := rules[3], rules[4]
	if outer.Type != fdi.RuleMatch || inner.Type != fdi.RuleMatch {
		t.Fatal("first two records should be the match records")
	}

	// The inner match skips only its own merge: its jump lands on usb.seen.
	if inner.Jump != seen.Offset {
		t.Errorf("inner jump = %#x, want %#x", inner.Jump, seen.Offset)
	}
	// The outer match skips its whole block: its jump lands on the merge
	// that follows it.
	if outer.Jump != outside.Offset {
		t.Errorf("outer jump = %#x, want %#x", outer.Jump, outside.Offset)
	}
	// And the EOF sentinel follows the last rule.
	if len(eofs) != 1 || eofs[0].Offset <= outside.Offset {
		t.Error("eof sentinel misplaced")
	}
}

func TestCompileReverseAlphabeticalPriority(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "10-defaults.fdi", `<deviceinfo><device>
  <merge key="order.first" type="string">defaults</merge>
</device></deviceinfo>`)
	writeFDI(t, info, "90-override.fdi", `<deviceinfo><device>
  <merge key="order.first" type="string">override</merge>
</device></deviceinfo>`)

	_, c := compileAndView(t, sources)
	rules, _ := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	// Higher-numbered files compile first.
	if rules[0].Value() != "override" || rules[1].Value() != "defaults" {
		t.Errorf("compile order = %q, %q", rules[0].Value(), rules[1].Value())
	}
}

func TestCompileSkipsDotDirsAndNonFdi(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, ".hidden/10-x.fdi", `<deviceinfo><device>
  <merge key="x" type="string">hidden</merge>
</device></deviceinfo>`)
	writeFDI(t, info, "notes.txt", `not xml at all`)
	writeFDI(t, info, "sub/10-y.fdi", `<deviceinfo><device>
  <merge key="y" type="string">nested</merge>
</device></deviceinfo>`)

	res, c := compileAndView(t, sources)
	if res.Skipped != 0 {
		t.Fatalf("Skipped = %d", res.Skipped)
	}
	rules, _ := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 1 || rules[0].Key() != "y" {
		t.Fatalf("rules = %d, want only sub/10-y.fdi's merge", len(rules))
	}
}

func TestCompileElidesMalformedFile(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "20-bad.fdi", `<deviceinfo><device>
  <merge key="bad" type="nonsense">x</merge>
</device></deviceinfo>`)
	writeFDI(t, info, "10-good.fdi", `<deviceinfo><device>
  <merge key="good" type="string">yes</merge>
</device></deviceinfo>`)

	res, c := compileAndView(t, sources)
	if res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	rules, eofs := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 1 || rules[0].Key() != "good" {
		t.Fatalf("surviving rules wrong: %d", len(rules))
	}
	if len(eofs) != 1 {
		t.Fatalf("eof records = %d, want 1 (bad file elided)", len(eofs))
	}
}

func TestCompileToFileIsAtomic(t *testing.T) {
	sources, _, info, _ := testSources(t)
	writeFDI(t, info, "10-a.fdi", `<deviceinfo><device>
  <merge key="a" type="string">1</merge>
</device></deviceinfo>`)

	target := filepath.Join(t.TempDir(), "fdi-cache")
	skipped, err := New(nil).CompileToFile(sources, target)
	if err != nil {
		t.Fatalf("CompileToFile: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d", skipped)
	}
	if _, err := os.Stat(target + "~"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	c, err := cache.Open(target)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	rules, _ := collect(t, c, fdi.PhaseInformation)
	if len(rules) != 1 || rules[0].Key() != "a" {
		t.Fatalf("reopened cache wrong: %d rules", len(rules))
	}
}

func TestSourcesWithEnvOverrides(t *testing.T) {
	t.Setenv(EnvSourceInformation, "/custom/information")
	s := DefaultSources().WithEnvOverrides()
	if len(s.Information) != 1 || s.Information[0] != "/custom/information" {
		t.Errorf("Information = %v", s.Information)
	}
	if len(s.Preprobe) != 1 || s.Preprobe[0] != filepath.Join(DefaultSourceRoot, "preprobe") {
		t.Errorf("Preprobe = %v", s.Preprobe)
	}
}

func TestCachePathFromEnv(t *testing.T) {
	if got := CachePathFromEnv("/tmp/x"); got != "/tmp/x" {
		t.Errorf("got %q", got)
	}
	t.Setenv(EnvCacheName, "/custom/cache")
	if got := CachePathFromEnv("/tmp/x"); got != "/custom/cache" {
		t.Errorf("got %q", got)
	}
}
