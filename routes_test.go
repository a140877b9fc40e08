package lanchain

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// installedEngine replays a scenario onto a fresh EvtEngine without running it
func installedEngine(t *testing.T, sc *Scenario) *EvtEngine {
	t.Helper()
	eng := NewEvtEngine(EngineConfig{})
	sc.install(eng)
	return eng
}

type routeView struct {
	Dest    string
	Gateway string
	Metric  int
	Device  int
}

func viewRoutes(rt RoutingTable) []routeView {
	rtn := []routeView{}
	for _, entry := range rt {
		gw := ""
		if !entry.Direct() {
			gw = entry.Gateway.String()
		}
		rtn = append(rtn, routeView{entry.Dest.String(), gw, entry.Metric, entry.intrfc.index})
	}
	return rtn
}

func TestRoutesCase2(t *testing.T) {
	eng := installedEngine(t, newCase2(t))

	// node ids: term0 0, term1 1, term2 2, rtr0 3, rtr1 4
	tests := []struct {
		node NodeHandle
		want []routeView
	}{
		{0, []routeView{
			{"76.1.1.0/24", "10.1.1.3", 1, 0},
			{"10.1.1.0/24", "", 0, 0},
			{"10.1.2.0/24", "10.1.1.3", 2, 0},
		}},
		{3, []routeView{
			{"76.1.1.0/24", "", 0, 0},
			{"10.1.1.0/24", "", 0, 1},
			{"10.1.2.0/24", "76.1.1.2", 1, 0},
		}},
		{4, []routeView{
			{"76.1.1.0/24", "", 0, 0},
			{"10.1.1.0/24", "76.1.1.1", 1, 0},
			{"10.1.2.0/24", "", 0, 1},
		}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, viewRoutes(eng.RouteTable(tc.node))); diff != "" {
			t.Errorf("node %d routes (-want +got):\n%s", tc.node, diff)
		}
	}

	got := eng.PathBetween(0, netip.MustParseAddr("10.1.2.1"))
	if diff := cmp.Diff([]string{"term0", "rtr0", "rtr1", "term2"}, got); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
}

func TestRoutesLongChain(t *testing.T) {
	sc, err := NewScenario(5, []int{1, 0, 0, 0, 1}, DefaultLinkParams())
	if err != nil {
		t.Fatal(err)
	}
	eng := installedEngine(t, sc)

	term1, _ := sc.Node("term1")
	addr := sc.Topology().Bindings(term1.ID)[0].Addr
	got := eng.PathBetween(0, addr)
	want := []string{"term0", "rtr0", "rtr1", "rtr2", "rtr3", "rtr4", "term1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
}

func TestRoutesMultiHomedTerminalDoesNotForward(t *testing.T) {
	// term0 sits on a LAN of rtr0 and on one of rtr2, a shortcut around rtr1
	cfg := ScenarioConfig{
		Chain: ChainConfig{Routers: []RouterConfig{
			{Groups: []TerminalGroup{{Count: 1}}},
			{},
			{Groups: []TerminalGroup{{Count: 1, Attach: []string{"term0"}}}},
		}},
		GuardBand: DefaultGuardBand,
	}
	sc, err := NewChainScenario(cfg)
	if err != nil {
		t.Fatal(err)
	}
	eng := installedEngine(t, sc)

	rtr0, _ := sc.Node("rtr0")
	term1, _ := sc.Node("term1")
	addr := sc.Topology().Bindings(term1.ID)[0].Addr
	got := eng.PathBetween(NodeHandle(rtr0.ID), addr)
	want := []string{"rtr0", "rtr1", "rtr2", "term1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
}

func TestWriteRoutes(t *testing.T) {
	eng := installedEngine(t, newCase2(t))
	eng.ensureRoutes()

	var buf bytes.Buffer
	if err := writeRoutes(&buf, 1.0, eng.nodes); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if got := strings.Count(out, "Ipv4GlobalRouting table"); got != 5 {
		t.Errorf("got %d tables, want 5", got)
	}
	if !strings.Contains(out, "Node: 3, Time: +1s") {
		t.Errorf("missing rtr0 header:\n%s", out)
	}
	if !strings.Contains(out, "10.1.2.0        76.1.1.2        255.255.255.0   UG") {
		t.Errorf("missing rtr0 route to lan1:\n%s", out)
	}
}
