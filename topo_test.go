package lanchain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildChain(t *testing.T, cfg ChainConfig) *Topology {
	t.Helper()
	alloc, err := NewAddressAllocator(DefaultAddrConfig())
	if err != nil {
		t.Fatal(err)
	}
	topo, err := BuildChain(cfg, alloc)
	if err != nil {
		t.Fatal(err)
	}
	return topo
}

func TestBuildChainCounts(t *testing.T) {
	tests := []struct {
		counts    []int
		terminals int
		lans      int
	}{
		{[]int{1}, 1, 1},
		{[]int{1, 1}, 2, 2},
		{[]int{2, 0, 3}, 5, 2},
		{[]int{0, 0, 0, 0}, 0, 0},
		{[]int{4, 1, 1, 2, 7}, 15, 5},
	}
	for _, tc := range tests {
		topo := buildChain(t, ChainFromCounts(tc.counts, DefaultLinkParams()))
		k := len(tc.counts)

		if got := len(topo.Routers); got != k {
			t.Errorf("%v: got %d routers, want %d", tc.counts, got, k)
		}
		if got := len(topo.Terminals); got != tc.terminals {
			t.Errorf("%v: got %d terminals, want %d", tc.counts, got, tc.terminals)
		}
		lans, bbs := 0, 0
		for _, seg := range topo.Segments {
			if seg.Kind == Backbone {
				bbs += 1
			} else {
				lans += 1
			}
		}
		if lans != tc.lans || bbs != k-1 {
			t.Errorf("%v: got %d lans and %d backbones, want %d and %d", tc.counts, lans, bbs, tc.lans, k-1)
		}
	}
}

func TestBuildChainAddressing(t *testing.T) {
	topo := buildChain(t, ChainFromCounts([]int{2, 1}, DefaultLinkParams()))

	type segView struct {
		Name    string
		Subnet  string
		Members []string
		Addrs   []string
	}
	got := []segView{}
	for _, seg := range topo.Segments {
		sv := segView{Name: seg.Name, Subnet: seg.Subnet.String()}
		for _, m := range seg.Members {
			node := topo.Nodes[m.NodeID]
			sv.Members = append(sv.Members, node.Name)
			sv.Addrs = append(sv.Addrs, node.Intrfcs[m.Intrfc].Addr.String())
		}
		got = append(got, sv)
	}
	want := []segView{
		{"bb0", "76.1.1.0/24", []string{"rtr0", "rtr1"}, []string{"76.1.1.1", "76.1.1.2"}},
		{"lan0", "10.1.1.0/24", []string{"term0", "term1", "rtr0"}, []string{"10.1.1.1", "10.1.1.2", "10.1.1.3"}},
		{"lan1", "10.1.2.0/24", []string{"term2", "rtr1"}, []string{"10.1.2.1", "10.1.2.2"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments (-want +got):\n%s", diff)
	}

	// terminals come first in node id order
	for idx, node := range topo.Nodes {
		if (idx < 3) != (node.Role == Terminal) {
			t.Errorf("node %d %s is a %s", idx, node.Name, node.Role)
		}
	}

	term2, _ := topo.NodeByName("term2")
	lan1, _ := topo.SegmentByName("lan1")
	addr, found := topo.AddrOn(term2.ID, lan1.ID)
	if !found || addr.String() != "10.1.2.1" {
		t.Errorf("AddrOn(term2, lan1): got %s, %v", addr, found)
	}
	if got := len(topo.Bindings(term2.ID)); got != 1 {
		t.Errorf("term2 bindings: got %d, want 1", got)
	}
}

func TestBuildChainMultiHomed(t *testing.T) {
	cfg := ChainConfig{Routers: []RouterConfig{
		{Groups: []TerminalGroup{{Count: 1}}},
		{Groups: []TerminalGroup{{Count: 1, Attach: []string{"term0"}}}},
	}}
	topo := buildChain(t, cfg)

	term0, _ := topo.NodeByName("term0")
	if got := len(term0.Intrfcs); got != 2 {
		t.Fatalf("term0 interfaces: got %d, want 2", got)
	}
	got := []string{}
	for _, bnd := range topo.Bindings(term0.ID) {
		got = append(got, bnd.Addr.String())
	}
	// lan1 lists its own terminal first, the attached one next, the router last
	if diff := cmp.Diff([]string{"10.1.1.1", "10.1.2.2"}, got); diff != "" {
		t.Errorf("term0 bindings (-want +got):\n%s", diff)
	}
}

func TestBuildChainNamedRouters(t *testing.T) {
	cfg := ChainConfig{Routers: []RouterConfig{
		{Name: "edge", Groups: []TerminalGroup{{Count: 1}}},
		{Name: "core"},
	}}
	topo := buildChain(t, cfg)
	if _, found := topo.NodeByName("edge"); !found {
		t.Error("router edge not found")
	}
	if _, found := topo.NodeByName("rtr0"); found {
		t.Error("default name used for a named router")
	}
}

func TestBuildChainMalformed(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChainConfig
	}{
		{"no routers", ChainConfig{}},
		{"empty group", ChainConfig{Routers: []RouterConfig{{Groups: []TerminalGroup{{Count: 0}}}}}},
		{"negative count", ChainFromCounts([]int{1, -2}, DefaultLinkParams())},
		{"attach unknown", ChainConfig{Routers: []RouterConfig{{Groups: []TerminalGroup{{Count: 1, Attach: []string{"term9"}}}}}}},
		{"attach router", ChainConfig{Routers: []RouterConfig{{Groups: []TerminalGroup{{Count: 1, Attach: []string{"rtr0"}}}}}}},
		{"attach twice", ChainConfig{Routers: []RouterConfig{{Groups: []TerminalGroup{{Count: 1}, {Count: 1, Attach: []string{"term0", "term0"}}}}}}},
		{"duplicate router name", ChainConfig{Routers: []RouterConfig{{Name: "r"}, {Name: "r"}}}},
		{"unknown override", ChainConfig{
			Routers:   []RouterConfig{{Groups: []TerminalGroup{{Count: 1}}}},
			Overrides: []LinkOverride{{Match: "name=lan7", DataRate: 10}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alloc, err := NewAddressAllocator(DefaultAddrConfig())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := BuildChain(tc.cfg, alloc); !errors.Is(err, ErrMalformedTopology) {
				t.Errorf("got %v, want ErrMalformedTopology", err)
			}
		})
	}
}

func TestBuildChainSubnetTooSmall(t *testing.T) {
	alloc, err := NewAddressAllocator(AddrConfig{TerminalPool: "10.1.0.0/16", BackbonePool: "76.1.0.0/16", Width: 30})
	if err != nil {
		t.Fatal(err)
	}
	// a /30 carries two hosts, a LAN of three terminals and a router does not fit
	if _, err := BuildChain(ChainFromCounts([]int{3}, DefaultLinkParams()), alloc); !errors.Is(err, ErrExhaustedAddressSpace) {
		t.Errorf("got %v, want ErrExhaustedAddressSpace", err)
	}
}
