package lanchain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const case3YAML = `
name: Case3
duration: 10
routers:
  - groups:
      - count: 2
  - groups:
      - count: 1
      - count: 1
flows:
  - server: term2
    clients: [term0, term1]
    interval: 1
    start: 0.5
  - server: term3
    clients: ["*"]
    interval: 1
    start: 1
trace:
  ascii: true
  routes: true
`

func TestReadScenarioDescYAML(t *testing.T) {
	sd, err := ReadScenarioDesc("inline", true, []byte(case3YAML))
	if err != nil {
		t.Fatal(err)
	}
	sc, err := BuildScenario(sd)
	if err != nil {
		t.Fatal(err)
	}

	// defaults filled in
	if sd.Link != DefaultLinkParams() || sd.Backbone != DefaultLinkParams() {
		t.Errorf("links %v %v", sd.Link, sd.Backbone)
	}
	if *sd.GuardBand != DefaultGuardBand {
		t.Errorf("guard band %g", *sd.GuardBand)
	}
	if sd.Trace.Prefix != "Case3" || sd.Trace.RoutesAt != DefaultRoutesAt {
		t.Errorf("trace options %+v", sd.Trace)
	}
	if sd.Engine.Horizon != 10 {
		t.Errorf("horizon %g", sd.Engine.Horizon)
	}

	type flowView struct {
		Server     string
		Addr       string
		Port       uint16
		Clients    int
		MaxPackets int
		Stop       float64
	}
	got := []flowView{}
	for _, flow := range sc.Flows() {
		got = append(got, flowView{
			sc.Nodes()[flow.ServerID].Name, flow.ServerAddr.String(), flow.Spec.Port,
			len(flow.ClientIDs), flow.MaxPackets, flow.Spec.Stop,
		})
	}
	want := []flowView{
		{"term2", "10.1.2.1", 5000, 2, 7, 10},
		{"term3", "10.1.3.1", 5000, 3, 7, 10},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flows (-want +got):\n%s", diff)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestScenarioDescRoundTripJSON(t *testing.T) {
	sd := CreateScenarioDesc("Case1", 10)
	sd.Terminals = []int{1, 1}
	sd.AddFlow("term1", []string{"term0"}, FlowSpec{Interval: 0.5, Start: 0.5})
	zero := 0.0
	sd.GuardBand = &zero
	sd.Defaults()

	name := filepath.Join(t.TempDir(), "case1.json")
	if err := sd.WriteToFile(name); err != nil {
		t.Fatal(err)
	}
	back, err := ReadScenarioDesc(name, UseYAML(name), nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sd, back); diff != "" {
		t.Errorf("(-wrote +read):\n%s", diff)
	}

	sc, err := BuildScenario(back)
	if err != nil {
		t.Fatal(err)
	}
	// no guard band: the whole 9.5s window is used
	if got := sc.Flows()[0].MaxPackets; got != 19 {
		t.Errorf("MaxPackets %d, want 19", got)
	}
}

func TestBuildScenarioErrors(t *testing.T) {
	t.Run("routers and terminals", func(t *testing.T) {
		sd := CreateScenarioDesc("x", 10)
		sd.Terminals = []int{1}
		sd.Routers = []RouterConfig{{}}
		if _, err := BuildScenario(sd); !errors.Is(err, ErrMalformedTopology) {
			t.Errorf("got %v, want ErrMalformedTopology", err)
		}
	})
	t.Run("every bad flow reported", func(t *testing.T) {
		sd := CreateScenarioDesc("x", 10)
		sd.Terminals = []int{1, 1}
		sd.AddFlow("nobody", []string{"term0"}, FlowSpec{})
		sd.AddFlow("term1", []string{"ghost"}, FlowSpec{})
		_, err := BuildScenario(sd)
		if !errors.Is(err, ErrUnknownNode) {
			t.Fatalf("got %v, want ErrUnknownNode", err)
		}
		if got := len(err.(interface{ Unwrap() []error }).Unwrap()); got != 2 {
			t.Errorf("got %d errors, want 2", got)
		}
	})
	t.Run("bad extension", func(t *testing.T) {
		sd := CreateScenarioDesc("x", 10)
		if err := sd.WriteToFile(filepath.Join(t.TempDir(), "x.txt")); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadScenarioDesc(filepath.Join(t.TempDir(), "none.yaml"), true, nil); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("got %v", err)
		}
	})
}

func TestReferenceConfigs(t *testing.T) {
	for _, name := range []string{"case1.yaml", "case2.yaml", "case3.yaml"} {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join("configs", name)
			sd, err := ReadScenarioDesc(file, UseYAML(file), nil)
			if err != nil {
				t.Fatal(err)
			}
			sc, err := BuildScenario(sd)
			if err != nil {
				t.Fatal(err)
			}
			if err := sc.Validate(); err != nil {
				t.Error(err)
			}
		})
	}
}
