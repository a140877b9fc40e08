package lanchain

// engine.go states what the scenario builder needs from a discrete-event
// network simulation engine.  The engine owns the simulated clock, packet
// transport, routing and trace formats; a Scenario only creates objects
// through these calls, then runs and destroys the engine.

import (
	"net/netip"
)

// NodeHandle identifies a node inside an engine
type NodeHandle int

// SegmentHandle identifies a segment inside an engine
type SegmentHandle int

// IntrfcHandle identifies an interface inside an engine
type IntrfcHandle int

// AppHandle identifies an installed application inside an engine
type AppHandle int

// ClientAppConfig holds everything a UDP client application is installed with
type ClientAppConfig struct {
	ServerAddr netip.Addr
	Port       uint16
	PacketSize int
	Interval   float64
	MaxPackets int
	Start      float64
	Stop       float64
	Model      string
}

// TraceOptions selects the trace outputs of a run
type TraceOptions struct {
	// Dir is the directory trace files are written to
	Dir string `json:"dir" yaml:"dir"`

	// Prefix starts every trace file name, e.g. Case3 gives Case3.tr
	Prefix string `json:"prefix" yaml:"prefix"`

	// Ascii enables the <prefix>.tr event trace
	Ascii bool `json:"ascii" yaml:"ascii"`

	// Pcap enables one <prefix>-<node>-<device>.pcap per interface
	Pcap bool `json:"pcap" yaml:"pcap"`

	// Routes enables the routing table dump at RoutesAt seconds
	Routes   bool    `json:"routes" yaml:"routes"`
	RoutesAt float64 `json:"routesat" yaml:"routesat"`

	// Summary, when not empty, names a yaml or json file receiving the
	// trace manager's records
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// A TraceSink is an open set of trace outputs.  It is opened before the
// engine runs and must be closed after the run ends, however it ends.
type TraceSink interface {
	Paths() []string
	Close() error
}

// Engine is the simulation engine the scenario is handed to
type Engine interface {
	CreateNode(name string, role NodeRole) NodeHandle
	CreateSegment(name string, link LinkParams, endpoints []NodeHandle) (SegmentHandle, []IntrfcHandle)
	AssignAddress(intrfc IntrfcHandle, subnet Subnet, hostIndex int) error
	InstallServerApp(node NodeHandle, port uint16, start, stop float64) AppHandle
	InstallClientApp(node NodeHandle, cfg ClientAppConfig) AppHandle
	OpenTrace(opts TraceOptions) (TraceSink, error)

	// Run blocks until no events remain or the horizon is reached
	Run() error
	Destroy() error
}

// AppStats is what an engine can tell about an application after a run
type AppStats struct {
	Sent     int
	Received int
	Lost     int
	Delays   []float64 // one-way delays of received packets, seconds
}

// AppReporter is implemented by engines that keep per-application counters
type AppReporter interface {
	AppStats(app AppHandle) (AppStats, bool)
}
