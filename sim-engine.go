package lanchain

// sim-engine.go implements Engine on the evtm discrete-event manager.
//
// Every segment is a shared medium serving one frame at a time in the order
// frames are handed to it.  A frame occupies the medium for its transmission
// time, then reaches the receiving interface after the propagation delay.
// Routers serve arriving packets on a TaskScheduler and forward them
// following their global routing tables; terminals only accept packets
// addressed to them.

import (
	"fmt"
	"math"
	"net"
	"net/netip"

	"github.com/apex/log"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
)

// defaultTTL is the hop limit of a new packet
const defaultTTL = 64

// EngineConfig holds the parameters of an EvtEngine
type EngineConfig struct {
	// Horizon ends the run, in seconds.  Zero runs one second past the
	// latest application stop time.
	Horizon float64 `json:"horizon" yaml:"horizon"`

	// RouteDelay is a router's processing time per packet, in seconds
	RouteDelay float64 `json:"routedelay" yaml:"routedelay"`

	// Cores is the number of packets a router processes at once
	Cores int `json:"cores" yaml:"cores"`

	// TTL is the hop limit given to new packets
	TTL int `json:"ttl" yaml:"ttl"`
}

// DefaultEngineConfig returns the configuration used for zero fields
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Horizon: 0.0, RouteDelay: DefaultRouteDelay, Cores: 1, TTL: defaultTTL}
}

// simNode is a node inside the engine
type simNode struct {
	objID   int
	id      int
	name    string
	role    NodeRole
	eng     *EvtEngine
	intrfcs []*simIntrfc
	routes  RoutingTable
	sched   *TaskScheduler
	rng     *rngstream.RngStream
	servers []*serverApp
	nxtPort uint16
}

// intrfcOn returns the interface of the node attached to seg, or nil
func (node *simNode) intrfcOn(seg *simSegment) *simIntrfc {
	for _, intrfc := range node.intrfcs {
		if intrfc.seg == seg {
			return intrfc
		}
	}
	return nil
}

// owns reports whether addr is one of the node's addresses
func (node *simNode) owns(addr netip.Addr) bool {
	for _, intrfc := range node.intrfcs {
		if intrfc.addr == addr {
			return true
		}
	}
	return false
}

// ephemeralPort hands out source ports for the node's client applications
func (node *simNode) ephemeralPort() uint16 {
	if node.nxtPort == 0 {
		node.nxtPort = 49153
	}
	port := node.nxtPort
	node.nxtPort += 1
	return port
}

// simIntrfc is a node's attachment to a segment
type simIntrfc struct {
	objID  int
	number int // engine-wide interface number
	index  int // device index on the node
	node   *simNode
	seg    *simSegment
	addr   netip.Addr
	mac    net.HardwareAddr
}

// String returns the namespace path of the interface
func (intrfc *simIntrfc) String() string {
	return fmt.Sprintf("/NodeList/%d/DeviceList/%d", intrfc.node.id, intrfc.index)
}

// simSegment is a shared medium
type simSegment struct {
	objID     int
	id        int
	name      string
	link      LinkParams
	subnet    Subnet
	intrfcs   []*simIntrfc
	busyUntil float64
}

// intrfcWithAddr returns the attached interface holding addr, or nil
func (seg *simSegment) intrfcWithAddr(addr netip.Addr) *simIntrfc {
	for _, intrfc := range seg.intrfcs {
		if intrfc.addr == addr {
			return intrfc
		}
	}
	return nil
}

// txTime is the time the medium is busy with a frame carrying pkt
func (seg *simSegment) txTime(pkt *packet) float64 {
	return float64(pkt.frameLen()*8) / (seg.link.DataRate * 1e6)
}

// packet is a UDP datagram in flight
type packet struct {
	uid     int
	src     netip.Addr
	dst     netip.Addr
	srcPort uint16
	dstPort uint16
	size    int // UDP payload bytes
	seq     uint32
	sentAt  float64
	ttl     int
}

// frameLen is the number of bytes the packet occupies on a segment
func (pkt *packet) frameLen() int {
	return pkt.size + udpHeaderLen + ipv4HeaderLen + ethHeaderLen
}

// hopRec carries a packet crossing a segment from one interface to another
type hopRec struct {
	pkt  *packet
	from *simIntrfc
	to   *simIntrfc
}

// EvtEngine is a discrete-event packet simulator
type EvtEngine struct {
	cfg      EngineConfig
	evtMgr   *evtm.EventManager
	nodes    []*simNode
	segments []*simSegment
	intrfcs  []*simIntrfc
	clients  map[AppHandle]*clientApp
	servers  map[AppHandle]*serverApp
	numApps  int
	sink     *traceSink
	nxtObjID int
	nxtPktID int
	dropped  int
	routed   bool
	ran      bool
	gone     bool
}

// NewEvtEngine is a constructor.  Zero fields of cfg take their default.
func NewEvtEngine(cfg EngineConfig) *EvtEngine {
	dflt := DefaultEngineConfig()
	if !(cfg.RouteDelay > 0) {
		cfg.RouteDelay = dflt.RouteDelay
	}
	if cfg.Cores < 1 {
		cfg.Cores = dflt.Cores
	}
	if cfg.TTL < 1 {
		cfg.TTL = dflt.TTL
	}
	eng := new(EvtEngine)
	eng.cfg = cfg
	eng.evtMgr = evtm.New()
	eng.nodes = make([]*simNode, 0)
	eng.segments = make([]*simSegment, 0)
	eng.intrfcs = make([]*simIntrfc, 0)
	eng.clients = make(map[AppHandle]*clientApp)
	eng.servers = make(map[AppHandle]*serverApp)
	return eng
}

// nxtID returns a fresh trace object id
func (eng *EvtEngine) nxtID() int {
	eng.nxtObjID += 1
	return eng.nxtObjID
}

// CreateNode adds a node
func (eng *EvtEngine) CreateNode(name string, role NodeRole) NodeHandle {
	node := new(simNode)
	node.objID = eng.nxtID()
	node.id = len(eng.nodes)
	node.name = name
	node.role = role
	node.eng = eng
	node.intrfcs = make([]*simIntrfc, 0)
	node.servers = make([]*serverApp, 0)
	node.rng = rngstream.New(name)
	if role == Router {
		node.sched = CreateTaskScheduler(eng.cfg.Cores)
	}
	eng.nodes = append(eng.nodes, node)
	return NodeHandle(node.id)
}

// node returns the node of a handle, panicking on a handle the engine never gave out
func (eng *EvtEngine) node(nh NodeHandle) *simNode {
	if int(nh) < 0 || int(nh) >= len(eng.nodes) {
		panic(fmt.Errorf("unknown node handle %d", nh))
	}
	return eng.nodes[nh]
}

// CreateSegment attaches the endpoints to a new segment, creating one
// interface per endpoint in the order given
func (eng *EvtEngine) CreateSegment(name string, link LinkParams, endpoints []NodeHandle) (SegmentHandle, []IntrfcHandle) {
	seg := new(simSegment)
	seg.objID = eng.nxtID()
	seg.id = len(eng.segments)
	seg.name = name
	seg.link = link.fillDefaults(DefaultLinkParams())
	seg.intrfcs = make([]*simIntrfc, 0, len(endpoints))
	eng.segments = append(eng.segments, seg)

	handles := make([]IntrfcHandle, 0, len(endpoints))
	for _, nh := range endpoints {
		node := eng.node(nh)
		intrfc := new(simIntrfc)
		intrfc.objID = eng.nxtID()
		intrfc.number = len(eng.intrfcs)
		intrfc.index = len(node.intrfcs)
		intrfc.node = node
		intrfc.seg = seg
		intrfc.mac = intrfcMAC(intrfc.number)
		node.intrfcs = append(node.intrfcs, intrfc)
		seg.intrfcs = append(seg.intrfcs, intrfc)
		eng.intrfcs = append(eng.intrfcs, intrfc)
		handles = append(handles, IntrfcHandle(intrfc.number))
	}
	eng.routed = false
	return SegmentHandle(seg.id), handles
}

// AssignAddress gives the interface host number hostIndex of subnet.  All
// interfaces of a segment must be numbered from the same subnet.
func (eng *EvtEngine) AssignAddress(ih IntrfcHandle, subnet Subnet, hostIndex int) error {
	if int(ih) < 0 || int(ih) >= len(eng.intrfcs) {
		return fmt.Errorf("unknown interface handle %d", ih)
	}
	intrfc := eng.intrfcs[ih]
	addr, err := subnet.Host(hostIndex)
	if err != nil {
		return err
	}
	seg := intrfc.seg
	if seg.subnet.Prefix.IsValid() && seg.subnet.Prefix != subnet.Prefix {
		return fmt.Errorf("segment %s already numbered from %s, not %s", seg.name, seg.subnet, subnet)
	}
	if other := seg.intrfcWithAddr(addr); other != nil && other != intrfc {
		return fmt.Errorf("address %s already assigned on segment %s", addr, seg.name)
	}
	seg.subnet = subnet
	intrfc.addr = addr
	eng.routed = false
	return nil
}

// InstallServerApp makes node listen on port during [start, stop)
func (eng *EvtEngine) InstallServerApp(nh NodeHandle, port uint16, start, stop float64) AppHandle {
	node := eng.node(nh)
	srv := createServerApp(AppHandle(eng.numApps), node, port, start, stop)
	eng.numApps += 1
	node.servers = append(node.servers, srv)
	eng.servers[srv.handle] = srv
	return srv.handle
}

// InstallClientApp makes node send to a server as cfg says.  The first
// packet leaves at cfg.Start.
func (eng *EvtEngine) InstallClientApp(nh NodeHandle, cfg ClientAppConfig) AppHandle {
	node := eng.node(nh)
	app := createClientApp(AppHandle(eng.numApps), node, cfg)
	eng.numApps += 1
	eng.clients[app.handle] = app
	if cfg.MaxPackets > 0 {
		eng.evtMgr.Schedule(app, nil, clientSend, vrtime.SecondsToTime(cfg.Start))
	}
	return app.handle
}

// ensureRoutes computes the routing tables once the topology is complete
func (eng *EvtEngine) ensureRoutes() {
	if eng.routed {
		return
	}
	computeRoutes(eng.nodes, eng.segments)
	eng.routed = true
}

// OpenTrace opens the trace outputs selected by opts.  Only one sink may be
// open at a time.
func (eng *EvtEngine) OpenTrace(opts TraceOptions) (TraceSink, error) {
	if eng.gone {
		return nil, fmt.Errorf("engine destroyed")
	}
	if eng.sink.open() {
		return nil, fmt.Errorf("trace already open")
	}
	eng.ensureRoutes()

	expName := opts.Prefix
	if len(expName) == 0 {
		expName = "lanchain"
	}
	sink, err := createTraceSink(opts, expName, eng.intrfcs)
	if err != nil {
		return nil, err
	}
	eng.sink = sink

	if sink.tm.Active() {
		for _, node := range eng.nodes {
			sink.tm.AddName(node.objID, node.name, node.role.String())
			for _, intrfc := range node.intrfcs {
				sink.tm.AddName(intrfc.objID, intrfc.String(), "interface")
			}
		}
		for _, seg := range eng.segments {
			sink.tm.AddName(seg.objID, seg.name, "segment")
		}
	}
	if opts.Routes {
		eng.evtMgr.Schedule(eng, nil, routesDump, vrtime.SecondsToTime(opts.RoutesAt))
	}
	return sink, nil
}

// routesDump is the event handler writing the routing tables
func routesDump(evtMgr *evtm.EventManager, context any, data any) any {
	eng := context.(*EvtEngine)
	if eng.sink.open() {
		eng.sink.dumpRoutes(evtMgr.CurrentSeconds(), eng.nodes)
	}
	return nil
}

// horizon returns the time the run ends
func (eng *EvtEngine) horizon() float64 {
	if eng.cfg.Horizon > 0 {
		return eng.cfg.Horizon
	}
	limit := 0.0
	for _, srv := range eng.servers {
		limit = math.Max(limit, srv.stop)
	}
	for _, app := range eng.clients {
		limit = math.Max(limit, app.cfg.Stop)
	}
	if eng.sink != nil && eng.sink.opts.Routes {
		limit = math.Max(limit, eng.sink.opts.RoutesAt)
	}
	return limit + 1.0
}

// Run executes the simulation.  An engine runs once.
func (eng *EvtEngine) Run() error {
	if eng.gone {
		return fmt.Errorf("engine destroyed")
	}
	if eng.ran {
		return fmt.Errorf("engine already ran")
	}
	eng.ran = true
	eng.ensureRoutes()

	limit := eng.horizon()
	log.WithFields(log.Fields{
		"nodes":    len(eng.nodes),
		"segments": len(eng.segments),
		"apps":     eng.numApps,
		"horizon":  limit,
	}).Debug("event loop start")

	eng.evtMgr.Run(limit)

	log.WithFields(log.Fields{"time": eng.evtMgr.CurrentSeconds(), "dropped": eng.dropped}).Debug("event loop end")
	return nil
}

// Destroy releases the simulation objects.  Application counters stay
// readable; destroying twice does nothing.
func (eng *EvtEngine) Destroy() error {
	if eng.gone {
		return nil
	}
	eng.gone = true
	for _, node := range eng.nodes {
		node.routes = nil
		node.sched = nil
	}
	eng.evtMgr = nil
	return nil
}

// AppStats returns the counters of an application
func (eng *EvtEngine) AppStats(ah AppHandle) (AppStats, bool) {
	if app, present := eng.clients[ah]; present {
		return AppStats{Sent: app.sent}, true
	}
	if srv, present := eng.servers[ah]; present {
		delays := make([]float64, len(srv.delays))
		copy(delays, srv.delays)
		return AppStats{Received: srv.received, Lost: srv.lost(), Delays: delays}, true
	}
	return AppStats{}, false
}

// Dropped returns the number of packets dropped during the run
func (eng *EvtEngine) Dropped() int {
	return eng.dropped
}

// RouteTable returns the routing table of a node
func (eng *EvtEngine) RouteTable(nh NodeHandle) RoutingTable {
	eng.ensureRoutes()
	return eng.node(nh).routes
}

// PathBetween lists the names of the nodes a packet from src to dst visits
func (eng *EvtEngine) PathBetween(src NodeHandle, dst netip.Addr) []string {
	eng.ensureRoutes()
	return pathBetween(eng.nodes, eng.node(src), dst)
}

// newPacket creates a packet leaving node for dst:port
func (eng *EvtEngine) newPacket(node *simNode, dst netip.Addr, srcPort, dstPort uint16, size int, seq uint32) *packet {
	pkt := new(packet)
	pkt.uid = eng.nxtPktID
	eng.nxtPktID += 1
	pkt.src = eng.sourceAddr(node, dst)
	pkt.dst = dst
	pkt.srcPort = srcPort
	pkt.dstPort = dstPort
	pkt.size = size
	pkt.seq = seq
	pkt.sentAt = eng.evtMgr.CurrentSeconds()
	pkt.ttl = eng.cfg.TTL
	return pkt
}

// sourceAddr is the address of the interface the route to dst leaves by
func (eng *EvtEngine) sourceAddr(node *simNode, dst netip.Addr) netip.Addr {
	if route, found := node.routes.lookup(dst); found {
		return route.intrfc.addr
	}
	for _, intrfc := range node.intrfcs {
		if intrfc.addr.IsValid() {
			return intrfc.addr
		}
	}
	return netip.Addr{}
}

// trace records a packet event at an interface with the open sink
func (eng *EvtEngine) trace(op byte, intrfc *simIntrfc, pkt *packet) {
	if !eng.sink.open() {
		return
	}
	eng.sink.record(op, eng.evtMgr.CurrentTime(), intrfc.String(), intrfc.objID, pkt)
}

// drop discards pkt at node
func (eng *EvtEngine) drop(node *simNode, at *simIntrfc, pkt *packet, reason string) {
	eng.dropped += 1
	log.WithFields(log.Fields{
		"node":   node.name,
		"pkt":    pkt.uid,
		"dst":    pkt.dst.String(),
		"reason": reason,
	}).Debug("packet dropped")

	if !eng.sink.open() {
		return
	}
	where := fmt.Sprintf("/NodeList/%d", node.id)
	objID := node.objID
	if at != nil {
		where = at.String()
		objID = at.objID
	}
	eng.sink.record('d', eng.evtMgr.CurrentTime(), where, objID, pkt)
}

// sendFrom routes pkt out of node
func (eng *EvtEngine) sendFrom(node *simNode, pkt *packet) {
	if node.owns(pkt.dst) {
		eng.deliver(node, nil, pkt)
		return
	}
	route, found := node.routes.lookup(pkt.dst)
	if !found {
		eng.drop(node, nil, pkt, "no route")
		return
	}
	nxtAddr := pkt.dst
	if !route.Direct() {
		nxtAddr = route.Gateway
	}
	peer := route.intrfc.seg.intrfcWithAddr(nxtAddr)
	if peer == nil {
		eng.drop(node, route.intrfc, pkt, "next hop unreachable")
		return
	}
	eng.transmit(route.intrfc, peer, pkt)
}

// transmit queues pkt on the segment of from, bound for to.  The medium
// serves frames one at a time in the order they are queued.
func (eng *EvtEngine) transmit(from, to *simIntrfc, pkt *packet) {
	seg := from.seg
	now := eng.evtMgr.CurrentSeconds()
	eng.trace('+', from, pkt)

	start := math.Max(now, seg.busyUntil)
	seg.busyUntil = roundFloat(start+seg.txTime(pkt), rdigits)
	arrive := roundFloat(seg.busyUntil+seg.link.Delay, rdigits)

	hop := &hopRec{pkt: pkt, from: from, to: to}
	eng.evtMgr.Schedule(eng, hop, txStart, vrtime.SecondsToTime(start-now))
	eng.evtMgr.Schedule(eng, hop, rxEnd, vrtime.SecondsToTime(arrive-now))
}

// txStart is the event handler for a frame taking the medium
func txStart(evtMgr *evtm.EventManager, context any, data any) any {
	eng := context.(*EvtEngine)
	hop := data.(*hopRec)
	eng.trace('-', hop.from, hop.pkt)
	if eng.sink.open() {
		eng.sink.capture(hop.from, evtMgr.CurrentSeconds(), hop.from, hop.to, hop.pkt)
	}
	return nil
}

// rxEnd is the event handler for a frame fully received
func rxEnd(evtMgr *evtm.EventManager, context any, data any) any {
	eng := context.(*EvtEngine)
	hop := data.(*hopRec)
	eng.trace('r', hop.to, hop.pkt)
	if eng.sink.open() {
		eng.sink.capture(hop.to, evtMgr.CurrentSeconds(), hop.from, hop.to, hop.pkt)
	}
	eng.receive(hop.to, hop.pkt)
	return nil
}

// receive handles pkt arriving at an interface
func (eng *EvtEngine) receive(at *simIntrfc, pkt *packet) {
	node := at.node
	if node.owns(pkt.dst) {
		eng.deliver(node, at, pkt)
		return
	}
	if node.role != Router {
		eng.drop(node, at, pkt, "not addressed to terminal")
		return
	}
	pkt.ttl -= 1
	if pkt.ttl <= 0 {
		eng.drop(node, at, pkt, "hop limit")
		return
	}
	node.sched.Schedule(eng.evtMgr, eng.cfg.RouteDelay, node, pkt, forwardPacket)
}

// forwardPacket is the event handler for a router done processing a packet
func forwardPacket(evtMgr *evtm.EventManager, context any, data any) any {
	node := context.(*simNode)
	node.eng.sendFrom(node, data.(*packet))
	return nil
}

// deliver hands pkt to the server application listening on its port
func (eng *EvtEngine) deliver(node *simNode, at *simIntrfc, pkt *packet) {
	now := eng.evtMgr.CurrentSeconds()
	for _, srv := range node.servers {
		if srv.listening(pkt.dstPort, now) {
			srv.receive(pkt, now)
			return
		}
	}
	eng.drop(node, at, pkt, "port unreachable")
}
