package lanchain

// scenario.go holds the top-level aggregate.  A Scenario is assembled
// completely (topology first, then flows), validated, and only then replayed
// onto an Engine by Commit.  A scenario that fails validation never reaches
// the engine.

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/apex/log"
	"github.com/montanaflynn/stats"
)

// ScenarioConfig is the full form of scenario construction input
type ScenarioConfig struct {
	Name       string
	Chain      ChainConfig
	Addressing AddrConfig

	// GuardBand is subtracted from every flow window before the packet count is computed
	GuardBand float64

	// Duration is the simulated horizon, zero meaning run until no events remain
	Duration float64
}

// Scenario owns the nodes, segments and flows of one simulation
type Scenario struct {
	Name     string
	Duration float64

	topo      *Topology
	flows     *FlowScheduler
	committed bool
}

// NewScenario builds a chain of chainLength routers where router i has one
// terminal segment of terminalsPerRouter[i] terminals (none when 0), with
// the default address pools and guard band.
func NewScenario(chainLength int, terminalsPerRouter []int, link LinkParams) (*Scenario, error) {
	if chainLength != len(terminalsPerRouter) {
		return nil, newScenarioError(ErrMalformedTopology, "chain", 0,
			"chain length %d but %d terminal counts", chainLength, len(terminalsPerRouter))
	}
	cfg := ScenarioConfig{
		Chain:      ChainFromCounts(terminalsPerRouter, link),
		Addressing: DefaultAddrConfig(),
		GuardBand:  DefaultGuardBand,
	}
	return NewChainScenario(cfg)
}

// NewChainScenario builds the topology described by cfg and returns a
// scenario ready to receive flows
func NewChainScenario(cfg ScenarioConfig) (*Scenario, error) {
	if cfg.GuardBand < 0 {
		return nil, fmt.Errorf("%w: negative guard band %g", ErrInvalidFlowSpec, cfg.GuardBand)
	}
	if cfg.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %g", ErrInvalidWindow, cfg.Duration)
	}

	alloc, err := NewAddressAllocator(cfg.Addressing)
	if err != nil {
		return nil, err
	}

	topo, err := BuildChain(cfg.Chain, alloc)
	if err != nil {
		return nil, err
	}

	sc := new(Scenario)
	sc.Name = cfg.Name
	sc.Duration = cfg.Duration
	sc.topo = topo
	sc.flows = CreateFlowScheduler(cfg.GuardBand)
	return sc, nil
}

// Nodes returns every node, terminals first
func (sc *Scenario) Nodes() []*Node {
	return sc.topo.Nodes
}

// Terminals returns the terminals in creation order
func (sc *Scenario) Terminals() []*Node {
	return sc.topo.Terminals
}

// Routers returns the routers in chain order
func (sc *Scenario) Routers() []*Node {
	return sc.topo.Routers
}

// Segments returns every segment, backbone segments first
func (sc *Scenario) Segments() []*Segment {
	return sc.topo.Segments
}

// Flows returns the recorded flows
func (sc *Scenario) Flows() []*Flow {
	return sc.flows.Flows()
}

// Topology gives access to the built topology
func (sc *Scenario) Topology() *Topology {
	return sc.topo
}

// Node looks a node up by name
func (sc *Scenario) Node(name string) (*Node, bool) {
	return sc.topo.NodeByName(name)
}

// AddFlow records a flow.  server names a terminal; clients names terminals,
// where "*" stands for every terminal other than the server.  Names that do
// not resolve are reported at once; the window, client set and port checks
// are left to Validate.
func (sc *Scenario) AddFlow(server string, clients []string, spec FlowSpec) (int, error) {
	if sc.committed {
		return -1, ErrCommitted
	}

	srvr, present := sc.topo.NodeByName(server)
	if !present {
		return -1, fmt.Errorf("%w: server %q", ErrUnknownNode, server)
	}
	if srvr.Role != Terminal {
		return -1, fmt.Errorf("%w: server %s is a %s", ErrInvalidFlowSpec, server, srvr.Role)
	}

	clientNodes, err := sc.resolveClients(srvr, clients)
	if err != nil {
		return -1, err
	}

	addr, err := sc.serverAddr(srvr, spec.ServerSegment)
	if err != nil {
		return -1, err
	}

	idx := sc.flows.AddFlow(srvr, clientNodes, addr, spec)

	log.WithFields(log.Fields{
		"flow":    idx,
		"server":  srvr.Name,
		"addr":    addr.String(),
		"port":    spec.Port,
		"clients": len(clientNodes),
	}).Debug("flow added")

	return idx, nil
}

// resolveClients turns client selectors into nodes, in selector order
func (sc *Scenario) resolveClients(srvr *Node, clients []string) ([]*Node, error) {
	rtn := make([]*Node, 0, len(clients))
	seen := make(map[int]bool)

	add := func(node *Node) error {
		if node.Role != Terminal {
			return fmt.Errorf("%w: client %s is a %s", ErrInvalidFlowSpec, node.Name, node.Role)
		}
		if node.ID == srvr.ID {
			return fmt.Errorf("%w: %s is both server and client", ErrInvalidFlowSpec, node.Name)
		}
		if seen[node.ID] {
			return fmt.Errorf("%w: client %s listed twice", ErrInvalidFlowSpec, node.Name)
		}
		seen[node.ID] = true
		rtn = append(rtn, node)
		return nil
	}

	for _, sel := range clients {
		if sel == "*" {
			for _, term := range sc.topo.Terminals {
				if term.ID == srvr.ID || seen[term.ID] {
					continue
				}
				if err := add(term); err != nil {
					return nil, err
				}
			}
			continue
		}

		node, present := sc.topo.NodeByName(sel)
		if !present {
			return nil, fmt.Errorf("%w: client %q", ErrUnknownNode, sel)
		}
		if err := add(node); err != nil {
			return nil, err
		}
	}
	return rtn, nil
}

// serverAddr finds the address clients of a flow target: the server's
// address on its local segment, or on the named segment
func (sc *Scenario) serverAddr(srvr *Node, segName string) (netip.Addr, error) {
	bindings := sc.topo.Bindings(srvr.ID)

	if len(segName) > 0 {
		seg, present := sc.topo.SegmentByName(segName)
		if !present {
			return netip.Addr{}, fmt.Errorf("%w: segment %q", ErrAmbiguousServer, segName)
		}
		for _, bnd := range bindings {
			if bnd.SegmentID == seg.ID {
				return bnd.Addr, nil
			}
		}
		return netip.Addr{}, fmt.Errorf("%w: %s is not attached to %s", ErrAmbiguousServer, srvr.Name, segName)
	}

	switch len(bindings) {
	case 0:
		return netip.Addr{}, fmt.Errorf("%w: %s has no terminal segment", ErrAmbiguousServer, srvr.Name)
	case 1:
		return bindings[0].Addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s is attached to %d segments, name one", ErrAmbiguousServer, srvr.Name, len(bindings))
}

// Validate checks the flows.  It has no side effect.
func (sc *Scenario) Validate() error {
	return sc.flows.Validate()
}

// FlowReport summarizes what happened to one flow during a run
type FlowReport struct {
	Index       int     `json:"index" yaml:"index"`
	Server      string  `json:"server" yaml:"server"`
	Port        uint16  `json:"port" yaml:"port"`
	MaxPackets  int     `json:"maxpackets" yaml:"maxpackets"`
	Sent        int     `json:"sent" yaml:"sent"`
	Received    int     `json:"received" yaml:"received"`
	Lost        int     `json:"lost" yaml:"lost"`
	MeanDelay   float64 `json:"meandelay" yaml:"meandelay"`
	MedianDelay float64 `json:"mediandelay" yaml:"mediandelay"`
	MaxDelay    float64 `json:"maxdelay" yaml:"maxdelay"`
}

// RunResult is what Commit returns
type RunResult struct {
	OK         bool         `json:"ok" yaml:"ok"`
	TraceFiles []string     `json:"tracefiles" yaml:"tracefiles"`
	Flows      []FlowReport `json:"flows" yaml:"flows"`
}

// flowApps remembers the applications installed for one flow
type flowApps struct {
	server  AppHandle
	clients []AppHandle
}

// Commit validates the scenario, replays it onto the engine, opens the trace
// sink, runs and destroys the engine, and closes the sink.  The sink is
// closed on every path once opened, including when Run fails.
func (sc *Scenario) Commit(eng Engine, opts TraceOptions) (result *RunResult, err error) {
	if sc.committed {
		return nil, ErrCommitted
	}
	if err := sc.Validate(); err != nil {
		return &RunResult{OK: false}, err
	}
	sc.committed = true

	apps := sc.install(eng)

	sink, err := eng.OpenTrace(opts)
	if err != nil {
		return &RunResult{OK: false}, ReportErrs([]error{err, eng.Destroy()})
	}

	result = &RunResult{OK: false, TraceFiles: sink.Paths()}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			result.OK = false
			err = ReportErrs([]error{err, closeErr})
		}
	}()

	log.WithFields(log.Fields{"scenario": sc.Name, "flows": len(sc.Flows())}).Info("run simulation")
	runErr := eng.Run()

	result.Flows = sc.reportFlows(eng, apps)

	destroyErr := eng.Destroy()
	if err := ReportErrs([]error{runErr, destroyErr}); err != nil {
		return result, err
	}

	result.OK = true
	log.WithFields(log.Fields{"scenario": sc.Name}).Info("done")
	return result, nil
}

// install creates nodes, segments, addresses and applications in the engine
func (sc *Scenario) install(eng Engine) []flowApps {
	nodeHandles := make([]NodeHandle, len(sc.topo.Nodes))
	for _, node := range sc.topo.Nodes {
		nodeHandles[node.ID] = eng.CreateNode(node.Name, node.Role)
	}

	for _, seg := range sc.topo.Segments {
		endpoints := make([]NodeHandle, 0, len(seg.Members))
		for _, member := range seg.Members {
			endpoints = append(endpoints, nodeHandles[member.NodeID])
		}
		_, intrfcs := eng.CreateSegment(seg.Name, seg.Link, endpoints)

		for idx, ih := range intrfcs {
			// the subnet was sized for the segment, so this cannot fail
			// unless the engine numbers hosts differently
			if err := eng.AssignAddress(ih, seg.Subnet, idx+1); err != nil {
				log.WithError(err).WithField("segment", seg.Name).Warn("address not assigned")
			}
		}
	}

	apps := make([]flowApps, 0, len(sc.Flows()))
	for _, flow := range sc.Flows() {
		fa := flowApps{clients: make([]AppHandle, 0, len(flow.ClientIDs))}
		fa.server = eng.InstallServerApp(nodeHandles[flow.ServerID], flow.Spec.Port, flow.Spec.Start, flow.Spec.Stop)

		cfg := ClientAppConfig{
			ServerAddr: flow.ServerAddr,
			Port:       flow.Spec.Port,
			PacketSize: flow.Spec.PacketSize,
			Interval:   flow.Spec.Interval,
			MaxPackets: flow.MaxPackets,
			Start:      flow.Spec.Start,
			Stop:       flow.Spec.Stop,
			Model:      flow.Spec.Model,
		}
		for _, clientID := range flow.ClientIDs {
			fa.clients = append(fa.clients, eng.InstallClientApp(nodeHandles[clientID], cfg))
		}
		apps = append(apps, fa)

		log.Info(flow.String())
	}
	return apps
}

// reportFlows gathers per-flow counters when the engine keeps them
func (sc *Scenario) reportFlows(eng Engine, apps []flowApps) []FlowReport {
	reports := make([]FlowReport, 0, len(apps))
	reporter, ok := eng.(AppReporter)

	for idx, flow := range sc.Flows() {
		fr := FlowReport{
			Index:      flow.Index,
			Server:     sc.topo.Nodes[flow.ServerID].Name,
			Port:       flow.Spec.Port,
			MaxPackets: flow.MaxPackets,
		}
		if ok {
			if srvStats, found := reporter.AppStats(apps[idx].server); found {
				fr.Received = srvStats.Received
				fr.Lost = srvStats.Lost
				fr.MeanDelay, fr.MedianDelay, fr.MaxDelay = summarizeDelays(srvStats.Delays)
			}
			for _, client := range apps[idx].clients {
				if cs, found := reporter.AppStats(client); found {
					fr.Sent += cs.Sent
				}
			}
		}
		reports = append(reports, fr)
	}
	return reports
}

// summarizeDelays returns mean, median and max of the delays, zeros when empty
func summarizeDelays(delays []float64) (float64, float64, float64) {
	if len(delays) == 0 {
		return 0.0, 0.0, 0.0
	}
	mean, err1 := stats.Mean(delays)
	median, err2 := stats.Median(delays)
	max, err3 := stats.Max(delays)
	if err := errors.Join(err1, err2, err3); err != nil {
		log.WithError(err).Warn("delay statistics")
	}
	return mean, median, max
}
