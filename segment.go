package lanchain

// segment.go builds shared-medium LAN segments.  Building attaches one new
// interface per member, in exactly the order the members are given, and no
// address is assigned here; addressing is done by the topology builder once
// the shape of the topology is known.

import (
	"fmt"
)

// LinkParams describes the medium of a segment
type LinkParams struct {
	// DataRate is the channel bandwidth, in Mbps
	DataRate float64 `json:"datarate" yaml:"datarate"`

	// Delay is the propagation delay across the channel, in seconds
	Delay float64 `json:"delay" yaml:"delay"`
}

// DefaultLinkParams returns the CSMA channel of the reference scenarios, 100Mbps and 2ms
func DefaultLinkParams() LinkParams {
	return LinkParams{DataRate: 100.0, Delay: 2e-3}
}

// fillDefaults replaces zero fields with the default
func (lp LinkParams) fillDefaults(dflt LinkParams) LinkParams {
	if !(lp.DataRate > 0) {
		lp.DataRate = dflt.DataRate
	}
	if !(lp.Delay > 0) {
		lp.Delay = dflt.Delay
	}
	return lp
}

// SegmentKind tells terminal-facing LANs apart from router-to-router links
type SegmentKind int

const (
	TerminalFacing SegmentKind = iota
	Backbone
)

// String returns a short name, also used for matching link overrides
func (sk SegmentKind) String() string {
	switch sk {
	case TerminalFacing:
		return "lan"
	case Backbone:
		return "backbone"
	}
	return "unknown"
}

// purpose gives the address pool a segment of this kind draws from
func (sk SegmentKind) purpose() SubnetPurpose {
	if sk == Backbone {
		return BackboneSegment
	}
	return TerminalSegment
}

// A Member is one (node, interface index) pair of a segment
type Member struct {
	NodeID int
	Intrfc int
}

// A Segment is a shared-medium LAN connecting two or more interfaces.
// Members are kept in the order they were given at build time, which is
// also the order host addresses are assigned in.
type Segment struct {
	ID      int
	Name    string
	Kind    SegmentKind
	Link    LinkParams
	Subnet  Subnet
	Members []Member
}

// segmentBuilder numbers segments and interfaces as they are created
type segmentBuilder struct {
	numberOfSegments  int
	numberOfIntrfcs   int
	numberOfBackbones int
	numberOfLANs      int
}

// defaultSegmentName generates a unique name from the kind and a counter
func (sb *segmentBuilder) defaultSegmentName(kind SegmentKind) string {
	if kind == Backbone {
		sb.numberOfBackbones += 1
		return fmt.Sprintf("bb%d", sb.numberOfBackbones-1)
	}
	sb.numberOfLANs += 1
	return fmt.Sprintf("lan%d", sb.numberOfLANs-1)
}

// build creates a segment over members (in order), appends one interface per
// member to that member, and returns the interfaces in the same order.
// Interface i belongs to member i.
func (sb *segmentBuilder) build(kind SegmentKind, link LinkParams, members []*Node) (*Segment, []*Intrfc, error) {
	if len(members) < 2 {
		return nil, nil, fmt.Errorf("%w: a %s segment needs at least 2 members, got %d",
			ErrMalformedTopology, kind, len(members))
	}

	// a node may appear only once on a segment
	seen := make(map[int]bool)
	for _, node := range members {
		if seen[node.ID] {
			return nil, nil, fmt.Errorf("%w: node %s appears twice on one segment", ErrMalformedTopology, node.Name)
		}
		seen[node.ID] = true
	}

	seg := new(Segment)
	seg.ID = sb.numberOfSegments
	sb.numberOfSegments += 1
	seg.Kind = kind
	seg.Name = sb.defaultSegmentName(kind)
	seg.Link = link
	seg.Members = make([]Member, 0, len(members))

	intrfcs := make([]*Intrfc, 0, len(members))
	for _, node := range members {
		intrfc := node.addIntrfc(sb.numberOfIntrfcs, seg.ID)
		sb.numberOfIntrfcs += 1

		seg.Members = append(seg.Members, Member{NodeID: node.ID, Intrfc: intrfc.Index})
		intrfcs = append(intrfcs, intrfc)
	}
	return seg, intrfcs, nil
}
