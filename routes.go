package lanchain

// routes.go computes the global routing tables of the simulation engine.
//
// The approach is the one of a link-state protocol with a global view: the
// routers become vertices of a graph package that has built-in path discovery,
// two routers attached to a common segment are joined by an edge of weight 1,
// and the tree of shortest paths rooted at a router gives its next hop toward
// every segment it is not attached to.  Weighting each edge by 1 a shortest
// path minimizes the number of hops.  A terminal sends everything not local
// through the router of its own segments nearest to the destination.

import (
	"fmt"
	"io"
	"math"
	"net/netip"
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// RouteEntry gives the way out of a node toward one destination subnet
type RouteEntry struct {
	Dest    Subnet
	Gateway netip.Addr // not valid when Dest is directly attached
	Metric  int        // hops to a router attached to Dest
	intrfc  *simIntrfc
}

// Direct reports whether the destination segment is attached to the node
func (re RouteEntry) Direct() bool {
	return !re.Gateway.IsValid()
}

// RoutingTable lists the routes of one node, in segment id order
type RoutingTable []RouteEntry

// lookup returns the route whose destination contains addr.  Subnets of a
// topology are disjoint so at most one matches.
func (rt RoutingTable) lookup(addr netip.Addr) (RouteEntry, bool) {
	for _, entry := range rt {
		if entry.Dest.Contains(addr) {
			return entry, true
		}
	}
	return RouteEntry{}, false
}

// buildConnGraph returns the graph whose vertices are the routers and whose
// edges join routers sharing a segment.  Terminals do not forward, so they
// are left out and never show up inside a path.
func buildConnGraph(nodes []*simNode, segs []*simSegment) *simple.WeightedUndirectedGraph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, node := range nodes {
		if node.role == Router {
			connGraph.AddNode(simple.Node(node.id))
		}
	}

	for _, seg := range segs {
		for i := 0; i < len(seg.intrfcs); i++ {
			a := seg.intrfcs[i].node
			if a.role != Router {
				continue
			}
			for j := i + 1; j < len(seg.intrfcs); j++ {
				b := seg.intrfcs[j].node
				if b.role != Router || a.id == b.id {
					continue
				}
				connGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a.id), T: simple.Node(b.id), W: 1.0})
			}
		}
	}
	return connGraph
}

// convertNodeSeq extracts the node ids from a path of graph nodes
func convertNodeSeq(nsQ []graph.Node) []int {
	rtn := make([]int, 0, len(nsQ))
	for _, gn := range nsQ {
		rtn = append(rtn, int(gn.ID()))
	}
	return rtn
}

// segDist returns the number of router hops from the root of spTree to the
// nearest router attached to seg, and that router.  Ties go to the lowest
// node id.
func segDist(spTree path.Shortest, seg *simSegment) (float64, *simNode) {
	bestW := math.Inf(1)
	var best *simNode
	for _, member := range seg.intrfcs {
		if member.node.role != Router {
			continue
		}
		w := spTree.WeightTo(int64(member.node.id))
		if w < bestW || (w == bestW && best != nil && member.node.id < best.id) {
			bestW = w
			best = member.node
		}
	}
	return bestW, best
}

// computeRoutes fills in the routing table of every node.  A segment without
// an assigned subnet is not a destination.
func computeRoutes(nodes []*simNode, segs []*simSegment) {
	connGraph := buildConnGraph(nodes, segs)

	// one tree of shortest paths rooted at every router
	spTrees := make(map[int]path.Shortest)
	for _, node := range nodes {
		if node.role == Router {
			spTrees[node.id] = path.DijkstraFrom(simple.Node(node.id), connGraph)
		}
	}

	for _, node := range nodes {
		table := make(RoutingTable, 0, len(segs))

		for _, seg := range segs {
			if !seg.subnet.Prefix.IsValid() {
				continue
			}

			// directly attached
			if intrfc := node.intrfcOn(seg); intrfc != nil {
				table = append(table, RouteEntry{Dest: seg.subnet, Metric: 0, intrfc: intrfc})
				continue
			}

			var entry RouteEntry
			var found bool
			if node.role == Router {
				entry, found = routerRoute(nodes, spTrees[node.id], node, seg)
			} else {
				entry, found = terminalRoute(spTrees, node, seg)
			}
			if found {
				table = append(table, entry)
			}
		}
		node.routes = table
	}
}

// routerRoute gives the route of a router toward a segment it is not attached to
func routerRoute(nodes []*simNode, spTree path.Shortest, node *simNode, seg *simSegment) (RouteEntry, bool) {
	w, target := segDist(spTree, seg)
	if target == nil || math.IsInf(w, 1) {
		return RouteEntry{}, false
	}
	nsQ, _ := spTree.To(int64(target.id))
	hops := convertNodeSeq(nsQ)
	if len(hops) < 2 {
		return RouteEntry{}, false
	}
	out, gw := intrfcsBetween(node, nodes[hops[1]])
	if out == nil {
		return RouteEntry{}, false
	}
	return RouteEntry{Dest: seg.subnet, Gateway: gw.addr, Metric: int(w), intrfc: out}, true
}

// terminalRoute gives the route of a terminal toward a segment it is not
// attached to: through the router of its own segments that is nearest to the
// destination, the first interface winning ties
func terminalRoute(spTrees map[int]path.Shortest, node *simNode, seg *simSegment) (RouteEntry, bool) {
	bestW := math.Inf(1)
	var rtn RouteEntry
	for _, intrfc := range node.intrfcs {
		for _, peer := range intrfc.seg.intrfcs {
			if peer.node.role != Router {
				continue
			}
			w, target := segDist(spTrees[peer.node.id], seg)
			if target == nil || !(w+1 < bestW) {
				continue
			}
			bestW = w + 1
			rtn = RouteEntry{Dest: seg.subnet, Gateway: peer.addr, Metric: int(bestW), intrfc: intrfc}
		}
	}
	return rtn, !math.IsInf(bestW, 1)
}

// intrfcsBetween returns the interface of a on a segment shared with b, and
// b's interface on that segment.  The first of a's interfaces that qualifies
// is chosen.
func intrfcsBetween(a, b *simNode) (*simIntrfc, *simIntrfc) {
	for _, intrfc := range a.intrfcs {
		if peer := b.intrfcOn(intrfc.seg); peer != nil {
			return intrfc, peer
		}
	}
	return nil, nil
}

// pathBetween returns the names of the nodes a packet from src to dst visits,
// following the routing tables, or nil when dst is unreachable
func pathBetween(nodes []*simNode, src *simNode, dst netip.Addr) []string {
	visited := make(map[int]bool)
	here := src
	names := []string{here.name}
	for !here.owns(dst) {
		if visited[here.id] {
			return nil
		}
		visited[here.id] = true

		route, found := here.routes.lookup(dst)
		if !found {
			return nil
		}
		nxtAddr := dst
		if !route.Direct() {
			nxtAddr = route.Gateway
		}
		peer := route.intrfc.seg.intrfcWithAddr(nxtAddr)
		if peer == nil {
			return nil
		}
		here = peer.node
		names = append(names, here.name)
	}
	return names
}

// writeRoutes dumps the routing table of every node in the layout of a
// global routing table listing
func writeRoutes(w io.Writer, now float64, nodes []*simNode) error {
	var sb strings.Builder
	for _, node := range nodes {
		fmt.Fprintf(&sb, "Node: %d, Time: +%gs, Ipv4GlobalRouting table\n", node.id, now)
		fmt.Fprintf(&sb, "%-16s%-16s%-16s%-6s%-7s%s\n", "Destination", "Gateway", "Genmask", "Flags", "Metric", "Iface")

		entries := slices.Clone(node.routes)
		slices.SortStableFunc(entries, func(a, b RouteEntry) int {
			return a.Metric - b.Metric
		})
		for _, entry := range entries {
			gw := "0.0.0.0"
			flags := "U"
			if !entry.Direct() {
				gw = entry.Gateway.String()
				flags = "UG"
			}
			fmt.Fprintf(&sb, "%-16s%-16s%-16s%-6s%-7d%d\n", entry.Dest.Base(), gw, entry.Dest.Mask(),
				flags, entry.Metric, entry.intrfc.index)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
