package lanchain

// flow.go records UDP traffic intents.  A flow binds one server, listening on
// a port for a window of time, to one or more clients that send fixed-size
// datagrams to the server's address during the same window.  Nothing is
// installed here; the flows are checked by Validate and replayed onto the
// engine when the scenario is committed.

import (
	"fmt"
	"math"
	"net/netip"

	"github.com/apex/log"
)

// DefaultGuardBand is the margin kept at the end of a window so that the
// last packet sent still arrives while the server listens
const DefaultGuardBand = 2.0

// seqTsHeaderLen is the length of the sequence number and timestamp every
// client writes at the front of a datagram
const seqTsHeaderLen = 12

// maxPayloadLen is the largest UDP payload an IPv4 datagram can carry
const maxPayloadLen = 65535 - ipv4HeaderLen - udpHeaderLen

// maxPacketCount caps the packets a client may be asked to send
const maxPacketCount = math.MaxInt32

// FlowSpec holds the parameters of one flow
type FlowSpec struct {
	Port       uint16  `json:"port" yaml:"port"`
	PacketSize int     `json:"packetsize" yaml:"packetsize"` // bytes of UDP payload
	Interval   float64 `json:"interval" yaml:"interval"`     // seconds between packets
	Start      float64 `json:"start" yaml:"start"`           // window start, seconds
	Stop       float64 `json:"stop" yaml:"stop"`             // window stop (excluded), seconds

	// Model selects the inter-packet times, "const" (default) or "expon"
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// ServerSegment names the segment whose address of the server is targeted.
	// Only needed when the server is multi-homed.
	ServerSegment string `json:"serversegment,omitempty" yaml:"serversegment,omitempty"`
}

// A Flow is one recorded traffic intent
type Flow struct {
	Index      int
	ServerID   int
	ClientIDs  []int
	ServerAddr netip.Addr
	Spec       FlowSpec
	MaxPackets int
}

// MaxPacketsFor computes how many packets fit in the window of spec when the
// last guardBand seconds of the window are kept free
func MaxPacketsFor(spec FlowSpec, guardBand float64) int {
	if !(spec.Interval > 0) {
		return 0
	}
	active := spec.Stop - spec.Start - guardBand

	// a tiny epsilon keeps exact multiples, like 7.5/0.5, from rounding down
	cnt := math.Floor(active/spec.Interval + 1e-9)
	if cnt < 0 {
		return 0
	}
	if cnt > maxPacketCount {
		return maxPacketCount
	}
	return int(cnt)
}

// FlowScheduler holds the flows of a scenario
type FlowScheduler struct {
	GuardBand float64
	flows     []*Flow
}

// CreateFlowScheduler is a constructor
func CreateFlowScheduler(guardBand float64) *FlowScheduler {
	fs := new(FlowScheduler)
	fs.GuardBand = guardBand
	fs.flows = make([]*Flow, 0)
	return fs
}

// Flows returns the recorded flows in the order they were added
func (fs *FlowScheduler) Flows() []*Flow {
	return fs.flows
}

// AddFlow records a flow from clients to server, where serverAddr is the
// address of the server the clients target.  The flow index is returned; the
// flow is checked later by Validate.
func (fs *FlowScheduler) AddFlow(server *Node, clients []*Node, serverAddr netip.Addr, spec FlowSpec) int {
	flow := new(Flow)
	flow.Index = len(fs.flows)
	flow.ServerID = server.ID
	flow.ServerAddr = serverAddr
	flow.Spec = spec
	if len(flow.Spec.Model) == 0 {
		flow.Spec.Model = "const"
	}
	flow.ClientIDs = make([]int, 0, len(clients))
	for _, client := range clients {
		flow.ClientIDs = append(flow.ClientIDs, client.ID)
	}
	flow.MaxPackets = MaxPacketsFor(spec, fs.GuardBand)

	if flow.MaxPackets == 0 && spec.Start < spec.Stop {
		log.WithFields(log.Fields{
			"flow":      flow.Index,
			"window":    spec.Stop - spec.Start,
			"guardband": fs.GuardBand,
		}).Warn("window leaves no room for any packet")
	}

	fs.flows = append(fs.flows, flow)
	return flow.Index
}

// validInterArrivalModel lists the accepted names of inter-packet models
func validInterArrivalModel(model string) bool {
	switch model {
	case "const", "constant", "expon", "exp", "exponential":
		return true
	}
	return false
}

// Validate checks every flow and returns all problems found, each carrying
// the index of the offending flow.  It reads the flows only, so calling it
// again on unchanged flows reports the same errors.
func (fs *FlowScheduler) Validate() error {
	errs := []error{}

	for _, flow := range fs.flows {
		spec := flow.Spec
		if !(spec.Start < spec.Stop) || spec.Start < 0 {
			errs = append(errs, newScenarioError(ErrInvalidWindow, "flow", flow.Index,
				"window [%g, %g)", spec.Start, spec.Stop))
		}
		if len(flow.ClientIDs) == 0 {
			errs = append(errs, &ScenarioError{Kind: ErrEmptyClientSet, Entity: "flow", Index: flow.Index})
		}
		if !(spec.Interval > 0) {
			errs = append(errs, newScenarioError(ErrInvalidFlowSpec, "flow", flow.Index,
				"interval %g", spec.Interval))
		}
		if spec.PacketSize < seqTsHeaderLen {
			errs = append(errs, newScenarioError(ErrInvalidFlowSpec, "flow", flow.Index,
				"packet size %d below %d bytes", spec.PacketSize, seqTsHeaderLen))
		}
		if spec.PacketSize > maxPayloadLen {
			errs = append(errs, newScenarioError(ErrInvalidFlowSpec, "flow", flow.Index,
				"packet size %d above %d bytes", spec.PacketSize, maxPayloadLen))
		}
		if !validInterArrivalModel(spec.Model) {
			errs = append(errs, newScenarioError(ErrInvalidFlowSpec, "flow", flow.Index,
				"unknown model %q", spec.Model))
		}
	}

	// same server, same port, overlapping windows
	for idx := 1; idx < len(fs.flows); idx++ {
		later := fs.flows[idx]
		for _, earlier := range fs.flows[:idx] {
			if earlier.ServerID != later.ServerID || earlier.Spec.Port != later.Spec.Port {
				continue
			}
			if windowsOverlap(earlier.Spec, later.Spec) {
				errs = append(errs, newScenarioError(ErrPortConflict, "flow", later.Index,
					"port %d already used by flow %d", later.Spec.Port, earlier.Index))
			}
		}
	}

	return ReportErrs(errs)
}

// windowsOverlap reports whether two [start, stop) windows share an instant
func windowsOverlap(a, b FlowSpec) bool {
	return a.Start < b.Stop && b.Start < a.Stop
}

// String summarizes the flow for logs
func (flow *Flow) String() string {
	return fmt.Sprintf("flow %d: %d clients -> %s:%d [%g,%g) %d x %dB every %gs",
		flow.Index, len(flow.ClientIDs), flow.ServerAddr, flow.Spec.Port,
		flow.Spec.Start, flow.Spec.Stop, flow.MaxPackets, flow.Spec.PacketSize, flow.Spec.Interval)
}
