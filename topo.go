package lanchain

// topo.go lays out a chain of routers.  Router i is linked to router i+1 by a
// backbone segment, and every router is flanked by zero or more
// terminal-facing segments, each of which joins a non-empty group of terminals
// to that one router.
//
// Member order on a terminal-facing segment is terminals first, router last.
// Host addresses are handed out in member order, so the router of a LAN
// always gets the highest address of the LAN, and the reproducibility of
// addressing rests on keeping this order.

import (
	"fmt"
	"net/netip"

	"github.com/apex/log"
	"golang.org/x/exp/slices"
)

// TerminalGroup describes one terminal-facing segment of a router
type TerminalGroup struct {
	// Count is the number of new terminals created for the group
	Count int `json:"count" yaml:"count"`

	// Attach names terminals created by other groups that also join this
	// segment, which makes them multi-homed
	Attach []string `json:"attach,omitempty" yaml:"attach,omitempty"`
}

// RouterConfig describes one router of the chain
type RouterConfig struct {
	// Name is optional, a default rtr<N> is generated when empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Groups lists the router's terminal-facing segments, possibly none
	Groups []TerminalGroup `json:"groups" yaml:"groups"`
}

// ChainConfig is the input of the topology builder
type ChainConfig struct {
	Routers   []RouterConfig `json:"routers" yaml:"routers"`
	Link      LinkParams     `json:"link" yaml:"link"`         // medium of terminal-facing segments
	Backbone  LinkParams     `json:"backbone" yaml:"backbone"` // medium of router-to-router segments
	Overrides []LinkOverride `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// ChainFromCounts builds the chain configuration where router i has one
// terminal-facing segment with terminalsPerRouter[i] terminals, and no
// terminal segment at all when that count is 0.
func ChainFromCounts(terminalsPerRouter []int, link LinkParams) ChainConfig {
	cc := ChainConfig{Link: link, Backbone: link}
	cc.Routers = make([]RouterConfig, len(terminalsPerRouter))
	for idx, cnt := range terminalsPerRouter {
		cc.Routers[idx].Groups = []TerminalGroup{}
		if cnt != 0 {
			cc.Routers[idx].Groups = append(cc.Routers[idx].Groups, TerminalGroup{Count: cnt})
		}
	}
	return cc
}

// A Binding records the interface and address a terminal received on one of
// its terminal-facing segments
type Binding struct {
	SegmentID int
	Intrfc    int
	Addr      netip.Addr
}

// Topology is the product of the topology builder
type Topology struct {
	Nodes     []*Node
	Segments  []*Segment
	Routers   []*Node // in chain order
	Terminals []*Node // in creation order

	nodeByName map[string]*Node
	segByName  map[string]*Segment

	// bindings of each terminal, in the order its segments were built
	bindings map[int][]Binding
}

// NodeByName looks a node up by name
func (topo *Topology) NodeByName(name string) (*Node, bool) {
	node, present := topo.nodeByName[name]
	return node, present
}

// SegmentByName looks a segment up by name
func (topo *Topology) SegmentByName(name string) (*Segment, bool) {
	seg, present := topo.segByName[name]
	return seg, present
}

// Bindings returns the terminal-facing bindings of a terminal
func (topo *Topology) Bindings(nodeID int) []Binding {
	return topo.bindings[nodeID]
}

// AddrOn returns the address a node received on the given segment
func (topo *Topology) AddrOn(nodeID, segID int) (netip.Addr, bool) {
	if nodeID < 0 || nodeID >= len(topo.Nodes) {
		return netip.Addr{}, false
	}
	intrfc := topo.Nodes[nodeID].IntrfcOn(segID)
	if intrfc == nil {
		return netip.Addr{}, false
	}
	return intrfc.Addr, true
}

// BuildChain constructs the chain of routers and their terminal segments, and
// assigns one subnet per segment with the allocator.
func BuildChain(cfg ChainConfig, alloc *AddressAllocator) (*Topology, error) {
	if len(cfg.Routers) == 0 {
		return nil, &ScenarioError{Kind: ErrMalformedTopology, Entity: "chain", Index: 0, Detail: "no routers"}
	}
	cfg.Link = cfg.Link.fillDefaults(DefaultLinkParams())
	cfg.Backbone = cfg.Backbone.fillDefaults(cfg.Link)

	// every group must end up with at least one terminal
	for rtrIdx, rc := range cfg.Routers {
		for grpIdx, grp := range rc.Groups {
			if grp.Count < 0 {
				return nil, newScenarioError(ErrMalformedTopology, "group", grpIdx,
					"router %d: negative terminal count %d", rtrIdx, grp.Count)
			}
			if grp.Count == 0 && len(grp.Attach) == 0 {
				return nil, newScenarioError(ErrMalformedTopology, "group", grpIdx,
					"router %d: group has no members", rtrIdx)
			}
		}
	}

	topo := new(Topology)
	topo.Nodes = make([]*Node, 0)
	topo.Segments = make([]*Segment, 0)
	topo.Routers = make([]*Node, 0, len(cfg.Routers))
	topo.Terminals = make([]*Node, 0)
	topo.nodeByName = make(map[string]*Node)
	topo.segByName = make(map[string]*Segment)
	topo.bindings = make(map[int][]Binding)

	// create the terminals first, group by group, so that node ids follow
	// the order the reference configurations number their terminals in
	groupMembers := make([][][]*Node, len(cfg.Routers))
	for rtrIdx, rc := range cfg.Routers {
		groupMembers[rtrIdx] = make([][]*Node, len(rc.Groups))
		for grpIdx, grp := range rc.Groups {
			for cnt := 0; cnt < grp.Count; cnt++ {
				term := topo.addNode(Terminal, fmt.Sprintf("term%d", len(topo.Terminals)))
				topo.Terminals = append(topo.Terminals, term)
				groupMembers[rtrIdx][grpIdx] = append(groupMembers[rtrIdx][grpIdx], term)
			}
		}
	}

	// then the routers
	for rtrIdx, rc := range cfg.Routers {
		name := rc.Name
		if len(name) == 0 {
			name = fmt.Sprintf("rtr%d", rtrIdx)
		}
		_, present := topo.nodeByName[name]
		if present {
			return nil, newScenarioError(ErrMalformedTopology, "router", rtrIdx, "name %s over-used", name)
		}
		topo.Routers = append(topo.Routers, topo.addNode(Router, name))
	}

	// resolve the multi-homed terminals, now that every terminal is known
	for rtrIdx, rc := range cfg.Routers {
		for grpIdx, grp := range rc.Groups {
			for _, name := range grp.Attach {
				node, present := topo.nodeByName[name]
				if !present || node.Role != Terminal {
					return nil, newScenarioError(ErrMalformedTopology, "group", grpIdx,
						"router %d: %s is not a terminal", rtrIdx, name)
				}
				if slices.Contains(groupMembers[rtrIdx][grpIdx], node) {
					return nil, newScenarioError(ErrMalformedTopology, "group", grpIdx,
						"router %d: %s listed twice", rtrIdx, name)
				}
				groupMembers[rtrIdx][grpIdx] = append(groupMembers[rtrIdx][grpIdx], node)
			}
		}
	}

	sb := new(segmentBuilder)

	// backbone links, router i first and router i+1 second
	for idx := 0; idx+1 < len(topo.Routers); idx++ {
		seg, _, err := sb.build(Backbone, cfg.Backbone, []*Node{topo.Routers[idx], topo.Routers[idx+1]})
		if err != nil {
			return nil, err
		}
		topo.addSegment(seg)
	}

	// terminal-facing segments, terminals first and the router last
	for rtrIdx := range cfg.Routers {
		rtr := topo.Routers[rtrIdx]
		for _, group := range groupMembers[rtrIdx] {
			members := append(slices.Clone(group), rtr)
			seg, _, err := sb.build(TerminalFacing, cfg.Link, members)
			if err != nil {
				return nil, err
			}
			topo.addSegment(seg)
		}
	}

	if err := applyLinkOverrides(topo.Segments, cfg.Overrides); err != nil {
		return nil, err
	}

	// one subnet per segment, hosts numbered in member order
	for _, seg := range topo.Segments {
		if err := topo.assignSubnet(seg, alloc); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"routers":   len(topo.Routers),
		"terminals": len(topo.Terminals),
		"segments":  len(topo.Segments),
	}).Debug("chain topology built")

	return topo, nil
}

// addNode creates a node with the next id and registers it by name
func (topo *Topology) addNode(role NodeRole, name string) *Node {
	node := createNode(len(topo.Nodes), role)
	node.Name = name
	topo.Nodes = append(topo.Nodes, node)
	topo.nodeByName[name] = node
	return node
}

// addSegment remembers a built segment
func (topo *Topology) addSegment(seg *Segment) {
	topo.Segments = append(topo.Segments, seg)
	topo.segByName[seg.Name] = seg
}

// assignSubnet draws a subnet for the segment and numbers its members
func (topo *Topology) assignSubnet(seg *Segment, alloc *AddressAllocator) error {
	subnet, err := alloc.Next(seg.Kind.purpose())
	if err != nil {
		return err
	}
	seg.Subnet = subnet

	for idx, member := range seg.Members {
		addr, err := subnet.Host(idx + 1)
		if err != nil {
			return err
		}
		node := topo.Nodes[member.NodeID]
		intrfc := node.Intrfcs[member.Intrfc]
		intrfc.Addr = addr

		if node.Role == Terminal && seg.Kind == TerminalFacing {
			topo.bindings[node.ID] = append(topo.bindings[node.ID],
				Binding{SegmentID: seg.ID, Intrfc: intrfc.Index, Addr: addr})
		}
	}

	log.WithFields(log.Fields{
		"segment": seg.Name,
		"kind":    seg.Kind.String(),
		"subnet":  subnet.String(),
		"members": len(seg.Members),
	}).Debug("segment addressed")
	return nil
}
