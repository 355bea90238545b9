package evaluator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/hal-core/internal/device"
	"github.com/nerrad567/hal-core/internal/fdi"
	"github.com/nerrad567/hal-core/internal/fdi/cache"
	"github.com/nerrad567/hal-core/internal/fdi/compiler"
)

// compileInformation compiles one .fdi document into an in-memory cache
// with the document in the information region.
func compileInformation(t *testing.T, doc string) *cache.Cache {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "10-test.fdi"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := compiler.New(nil).Compile(compiler.Sources{Information: []string{dir}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	c, err := cache.FromBytes(res.Blob)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return c
}

func mustSet(t *testing.T, s *device.Store, d *device.Device, key string, v device.Value) {
	t.Helper()
	if err := s.SetProperty(d, key, v); err != nil {
		t.Fatal(err)
	}
}

// Scenario S2: the failing inner match skips its merge, the outer block's
// trailing merge still applies.
func TestEvaluateNestedMatchFail(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <match key="info.bus" string="usb">
   <match key="usb.product_id" int="42">
    <merge key="info.product" type="string">Widget</merge>
   </match>
   <merge key="usb.seen" type="bool">true</merge>
  </match>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	d := s.NewDevice()
	mustSet(t, s, d, "info.bus", device.StringValue("usb"))
	mustSet(t, s, d, "usb.product_id", device.Int32Value(7))

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !d.GetBool("usb.seen") {
		t.Error("usb.seen should be true")
	}
	if d.HasProperty("info.product") {
		t.Error("info.product should not have been merged")
	}
}

// Testable property 5: a false top-level match skips every nested record.
func TestEvaluateFalseMatchSkipsWholeBlock(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <match key="info.bus" string="pci">
   <merge key="a" type="string">x</merge>
   <append key="b" type="strlist">y</append>
   <prepend key="b" type="strlist">z</prepend>
   <remove key="c" type="bool">true</remove>
  </match>
  <merge key="after" type="bool">true</merge>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	d := s.NewDevice()
	mustSet(t, s, d, "info.bus", device.StringValue("usb"))
	mustSet(t, s, d, "c", device.BoolValue(true))

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	for _, key := range []string{"a", "b"} {
		if d.HasProperty(key) {
			t.Errorf("%s merged despite failing match", key)
		}
	}
	if !d.GetBool("c") {
		t.Error("c removed despite failing match")
	}
	if !d.GetBool("after") {
		t.Error("record after the block should still run")
	}
}

func TestEvaluateMergeTypes(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <merge key="m.str" type="string">hello</merge>
  <merge key="m.bool" type="bool">true</merge>
  <merge key="m.int" type="int">0x10</merge>
  <merge key="m.uint" type="uint64">18446744073709551615</merge>
  <merge key="m.double" type="double">1.25</merge>
  <merge key="m.list" type="strlist">solo</merge>
  <merge key="m.copy" type="copy_property">m.str</merge>
  <merge key="m.copymiss" type="copy_property">no.such.key</merge>
  <merge key="m.bool" type="remove"></merge>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	d := s.NewDevice()

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if got := d.GetString("m.str"); got != "hello" {
		t.Errorf("m.str = %q", got)
	}
	if got := d.GetInt32("m.int"); got != 16 {
		t.Errorf("m.int = %d, want 16 (hex literal)", got)
	}
	if got := d.GetUint64("m.uint"); got != 1<<64-1 {
		t.Errorf("m.uint = %d", got)
	}
	if got := d.GetDouble("m.double"); got != 1.25 {
		t.Errorf("m.double = %v", got)
	}
	if got := d.GetStrList("m.list"); len(got) != 1 || got[0] != "solo" {
		t.Errorf("m.list = %v", got)
	}
	if got := d.GetString("m.copy"); got != "hello" {
		t.Errorf("m.copy = %q", got)
	}
	if d.HasProperty("m.copymiss") {
		t.Error("copy of a missing property must be skipped, not merged")
	}
	if d.HasProperty("m.bool") {
		t.Error("merge type remove should have removed m.bool")
	}
}

func TestEvaluateAppendPrependAddset(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <merge key="s" type="string">middle</merge>
  <append key="s" type="string">-end</append>
  <prepend key="s" type="string">start-</prepend>
  <append key="l" type="strlist">b</append>
  <prepend key="l" type="strlist">a</prepend>
  <addset key="l" type="strlist">b</addset>
  <addset key="l" type="strlist">c</addset>
  <remove key="l" type="strlist">a</remove>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	d := s.NewDevice()

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if got := d.GetString("s"); got != "start-middle-end" {
		t.Errorf("s = %q", got)
	}
	got := d.GetStrList("l")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("l = %v, want [b c]", got)
	}
}

func TestEvaluateMatchOperators(t *testing.T) {
	s := device.NewStore(nil)
	d := s.NewDevice()
	mustSet(t, s, d, "str", device.StringValue("FireWire Disk"))
	mustSet(t, s, d, "abs", device.StringValue("/dev/sda"))
	mustSet(t, s, d, "num", device.Int32Value(10))
	mustSet(t, s, d, "big", device.Uint64Value(5000000000))
	mustSet(t, s, d, "temp", device.DoubleValue(36.5))
	mustSet(t, s, d, "flag", device.BoolValue(true))
	mustSet(t, s, d, "caps", device.StrListValue([]string{"block", "storage.cdrom"}))
	mustSet(t, s, d, "empty", device.StringValue(""))

	tests := []struct {
		name  string
		match string
		want  bool
	}{
		{"string eq", `key="str" string="FireWire Disk"`, true},
		{"string ne", `key="str" string="Disk"`, false},
		{"int eq", `key="num" int="10"`, true},
		{"uint64 eq", `key="big" uint64="5000000000"`, true},
		{"bool eq", `key="flag" bool="true"`, true},
		{"bool ne", `key="flag" bool="false"`, false},
		{"double eq", `key="temp" double="36.5"`, true},
		{"exists hit", `key="str" exists="true"`, true},
		{"exists miss", `key="absent" exists="true"`, false},
		{"empty absent", `key="absent" empty="true"`, true},
		{"empty string", `key="empty" empty="true"`, true},
		{"empty non-empty", `key="str" empty="true"`, false},
		{"is_ascii", `key="str" is_ascii="true"`, true},
		{"is_absolute_path hit", `key="abs" is_absolute_path="true"`, true},
		{"is_absolute_path miss", `key="str" is_absolute_path="true"`, false},
		{"contains substring", `key="str" contains="Wire"`, true},
		{"contains list member", `key="caps" contains="block"`, true},
		{"contains list miss", `key="caps" contains="net"`, false},
		{"contains_ncase", `key="str" contains_ncase="firewire"`, true},
		{"contains_not absent", `key="absent" contains_not="x"`, true},
		{"contains_not hit", `key="str" contains_not="SCSI"`, true},
		{"contains_not miss", `key="str" contains_not="Fire"`, false},
		{"prefix", `key="str" prefix="Fire"`, true},
		{"prefix_ncase", `key="str" prefix_ncase="fire"`, true},
		{"suffix", `key="str" suffix="Disk"`, true},
		{"suffix_ncase", `key="str" suffix_ncase="DISK"`, true},
		{"compare_lt", `key="num" compare_lt="11"`, true},
		{"compare_le eq", `key="num" compare_le="10"`, true},
		{"compare_gt", `key="num" compare_gt="11"`, false},
		{"compare_ge", `key="big" compare_ge="5000000000"`, true},
		{"compare_ne", `key="temp" compare_ne="36.5"`, false},
		{"compare_ne hit", `key="temp" compare_ne="37"`, true},
		{"contains_outof", `key="str" contains_outof="SCSI;Wire;SATA"`, true},
		{"int_outof", `key="num" int_outof="5;10;15"`, true},
		{"int_outof miss", `key="num" int_outof="5;15"`, false},
		{"prefix_outof", `key="abs" prefix_outof="/sys;/dev"`, true},
		{"string_outof", `key="str" string_outof="Disk;FireWire Disk"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := compileInformation(t, `<deviceinfo>
 <device>
  <match `+tt.match+`>
   <merge key="matched" type="bool">true</merge>
  </match>
 </device>
</deviceinfo>`)

			if d.HasProperty("matched") {
				if err := s.RemoveProperty(d, "matched"); err != nil {
					t.Fatal(err)
				}
			}
			if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got := d.GetBool("matched"); got != tt.want {
				t.Errorf("match %s = %v, want %v", tt.match, got, tt.want)
			}
		})
	}
}

func TestEvaluateSiblingContains(t *testing.T) {
	s := device.NewStore(nil)

	parent := s.NewDevice()
	if err := s.CommitToGDL(parent, "/parent"); err != nil {
		t.Fatal(err)
	}

	sibling := s.NewDevice()
	sibling.SetParentUDI("/parent")
	mustSet(t, s, sibling, "scsi.model", device.StringValue("ACME TapeDrive"))
	if err := s.CommitToGDL(sibling, "/sibling"); err != nil {
		t.Fatal(err)
	}

	d := s.NewDevice()
	d.SetParentUDI("/parent")
	mustSet(t, s, d, "info.bus", device.StringValue("scsi"))

	c := compileInformation(t, `<deviceinfo>
 <device>
  <match key="scsi.model" sibling_contains="TapeDrive">
   <merge key="near.tape" type="bool">true</merge>
  </match>
 </device>
</deviceinfo>`)

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.GetBool("near.tape") {
		t.Error("sibling_contains should have matched")
	}
}

func TestEvaluateSpawnBlockTargetsChild(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <spawn udi="/org/freedesktop/Hal/devices/sensor_1">
   <merge key="info.category" type="string">sensor</merge>
  </spawn>
  <merge key="parent.marker" type="bool">true</merge>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	d := s.NewDevice()

	var spawned *device.Device
	spawn := func(parent *device.Device, udi string) *device.Device {
		child := s.NewDevice()
		child.SetParentUDI(parent.UDI())
		spawned = child
		return child
	}

	if err := New(s, spawn).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if spawned == nil {
		t.Fatal("spawn callback never ran")
	}
	if got := spawned.GetString("info.category"); got != "sensor" {
		t.Errorf("child info.category = %q", got)
	}
	if d.HasProperty("info.category") {
		t.Error("nested merge leaked onto the parent device")
	}
	if !d.GetBool("parent.marker") {
		t.Error("rule after the spawn block should apply to the parent")
	}
}

// Evaluation of one device produces exactly one change batch.
func TestEvaluateBatchesIntoSingleNotification(t *testing.T) {
	c := compileInformation(t, `<deviceinfo>
 <device>
  <merge key="a" type="string">1</merge>
  <merge key="b" type="string">2</merge>
  <merge key="c" type="string">3</merge>
 </device>
</deviceinfo>`)

	s := device.NewStore(nil)
	var batches [][]device.Change
	s.SetCallbacks(device.Callbacks{
		PropertiesModified: func(_ *device.Device, changes []device.Change) {
			cp := make([]device.Change, len(changes))
			copy(cp, changes)
			batches = append(batches, cp)
		},
	})
	d := s.NewDevice()

	if err := New(s, nil).Evaluate(d, c, fdi.PhaseInformation); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("changes in batch = %d, want 3", len(batches[0]))
	}
}
