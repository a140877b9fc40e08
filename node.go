package lanchain

import (
	"fmt"
	"net/netip"
)

// NodeRole is the base type for the enumerated kinds of nodes
type NodeRole int

const (
	Terminal NodeRole = iota
	Router
	UnknownRole
)

// String returns a string name for the role
func (nr NodeRole) String() string {
	switch nr {
	case Terminal:
		return "Terminal"
	case Router:
		return "Router"
	}
	return "Unknown"
}

// A Node is either a terminal (traffic endpoint) or a router (forwarding hop).
// Its interfaces appear in the order the segments it joins were built.
type Node struct {
	ID      int
	Name    string
	Role    NodeRole
	Intrfcs []*Intrfc
}

// createNode is a constructor
func createNode(id int, role NodeRole) *Node {
	node := new(Node)
	node.ID = id
	node.Role = role
	node.Intrfcs = make([]*Intrfc, 0)
	return node
}

// addIntrfc appends a new interface facing the named segment and returns it
func (node *Node) addIntrfc(number, segID int) *Intrfc {
	intrfc := &Intrfc{Number: number, Index: len(node.Intrfcs), NodeID: node.ID, SegmentID: segID}
	node.Intrfcs = append(node.Intrfcs, intrfc)
	return intrfc
}

// IntrfcOn returns the node's interface on the given segment, if any
func (node *Node) IntrfcOn(segID int) *Intrfc {
	for _, intrfc := range node.Intrfcs {
		if intrfc.SegmentID == segID {
			return intrfc
		}
	}
	return nil
}

// An Intrfc is one network interface of a node, attached to one segment
type Intrfc struct {
	Number    int        // unique among all interfaces of the scenario
	Index     int        // position in the owning node's interface list
	NodeID    int        // owning node
	SegmentID int        // segment the interface attaches to
	Addr      netip.Addr // zero until the topology builder assigns it
}

// String identifies the interface the way traces do
func (intrfc *Intrfc) String() string {
	return fmt.Sprintf("/NodeList/%d/DeviceList/%d", intrfc.NodeID, intrfc.Index)
}
