package lanchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iti/evt/vrtime"
)

func TestTraceManagerInactive(t *testing.T) {
	tm := CreateTraceManager("off", false)
	tm.AddTrace(vrtime.SecondsToTime(1.0), 1, TraceInst{TraceTime: "1"})
	if err := tm.AddName(1, "x", "node"); err != nil {
		t.Error(err)
	}
	if len(tm.Traces) != 0 || len(tm.NameByID) != 0 {
		t.Error("inactive manager kept records")
	}
	name := filepath.Join(t.TempDir(), "off.yaml")
	if err := tm.WriteToFile(name); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Error("inactive manager wrote a file")
	}
}

func TestTraceManagerJSON(t *testing.T) {
	tm := CreateTraceManager("exp", true)
	if err := tm.AddName(3, "rtr0", "router"); err != nil {
		t.Fatal(err)
	}
	if err := tm.AddName(3, "rtr1", "router"); err == nil {
		t.Error("duplicate id accepted")
	}
	tm.AddTrace(vrtime.SecondsToTime(0.5), 3, TraceInst{TraceTime: "0.5", TraceType: "packet", TraceStr: "x"})
	tm.AddTrace(vrtime.SecondsToTime(0.7), 3, TraceInst{TraceTime: "0.7", TraceType: "packet", TraceStr: "y"})

	name := filepath.Join(t.TempDir(), "exp.json")
	if err := tm.WriteToFile(name); err != nil {
		t.Fatal(err)
	}
	bytes, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	back := TraceManager{}
	if err := json.Unmarshal(bytes, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(*tm, back); diff != "" {
		t.Errorf("(-wrote +read):\n%s", diff)
	}

	if err := tm.WriteToFile(filepath.Join(t.TempDir(), "exp.csv")); err == nil {
		t.Error("unknown extension accepted")
	}
}

func TestPacketTraceSerialize(t *testing.T) {
	ptr := &PacketTrace{Time: 1.5, ObjID: 7, Op: "receive", PktID: 3, Seq: 2, Src: "10.1.1.1", Dst: "10.1.2.1", Len: 1024}
	out := ptr.Serialize()
	for _, want := range []string{"op: receive", "objid: 7", "len: 1024"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestTraceSinkBadDir(t *testing.T) {
	// a regular file where the directory should be
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng, _, _, _ := twoHosts(t, EngineConfig{})
	if _, err := eng.OpenTrace(TraceOptions{Dir: file, Ascii: true}); err == nil {
		t.Error("expected an error")
	}
	if _, err := eng.OpenTrace(TraceOptions{Dir: t.TempDir(), Routes: true, RoutesAt: -1}); err == nil {
		t.Error("negative dump time accepted")
	}
}
