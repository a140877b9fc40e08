package lanchain

// sim-app.go holds the UDP applications of the simulation engine.  A client
// sends numbered datagrams to one server address; a server listening on a
// port counts what arrives, notes one-way delays, and infers losses from
// gaps in each sender's sequence numbers.

import (
	"net/netip"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// clientApp sends cfg.MaxPackets datagrams at most, the first at cfg.Start,
// none at or after cfg.Stop
type clientApp struct {
	handle  AppHandle
	node    *simNode
	cfg     ClientAppConfig
	srcPort uint16
	sample  interArrival
	sent    int
}

// createClientApp is a constructor
func createClientApp(handle AppHandle, node *simNode, cfg ClientAppConfig) *clientApp {
	app := new(clientApp)
	app.handle = handle
	app.node = node
	app.cfg = cfg
	app.srcPort = node.ephemeralPort()
	app.sample = samplerFor(cfg.Model)
	return app
}

// nextGap samples the time to the next datagram
func (app *clientApp) nextGap() float64 {
	u01 := 0.0
	if needsRng(app.cfg.Model) {
		u01 = app.node.rng.RandU01()
	}
	return app.sample(u01, []float64{1.0 / app.cfg.Interval})
}

// clientSend is the event handler sending the next datagram of a client
func clientSend(evtMgr *evtm.EventManager, context any, data any) any {
	app := context.(*clientApp)
	now := evtMgr.CurrentSeconds()
	if app.sent >= app.cfg.MaxPackets || !(now < app.cfg.Stop) {
		return nil
	}

	eng := app.node.eng
	pkt := eng.newPacket(app.node, app.cfg.ServerAddr, app.srcPort, app.cfg.Port,
		app.cfg.PacketSize, uint32(app.sent))
	app.sent += 1
	eng.sendFrom(app.node, pkt)

	if app.sent < app.cfg.MaxPackets {
		gap := app.nextGap()
		if roundFloat(now+gap, rdigits) < app.cfg.Stop {
			evtMgr.Schedule(app, nil, clientSend, vrtime.SecondsToTime(gap))
		}
	}
	return nil
}

// srcKey identifies a sender seen by a server
type srcKey struct {
	addr netip.Addr
	port uint16
}

// srcRec is what a server knows about one sender
type srcRec struct {
	highest  uint32
	received int
}

// serverApp listens on port during [start, stop)
type serverApp struct {
	handle   AppHandle
	node     *simNode
	port     uint16
	start    float64
	stop     float64
	received int
	delays   []float64
	senders  map[srcKey]*srcRec
}

// createServerApp is a constructor
func createServerApp(handle AppHandle, node *simNode, port uint16, start, stop float64) *serverApp {
	srv := new(serverApp)
	srv.handle = handle
	srv.node = node
	srv.port = port
	srv.start = start
	srv.stop = stop
	srv.delays = make([]float64, 0)
	srv.senders = make(map[srcKey]*srcRec)
	return srv
}

// listening reports whether the server accepts a datagram for port at time now
func (srv *serverApp) listening(port uint16, now float64) bool {
	return port == srv.port && srv.start <= now && now < srv.stop
}

// receive accounts for an arriving datagram
func (srv *serverApp) receive(pkt *packet, now float64) {
	srv.received += 1
	srv.delays = append(srv.delays, roundFloat(now-pkt.sentAt, rdigits))

	key := srcKey{addr: pkt.src, port: pkt.srcPort}
	rec, present := srv.senders[key]
	if !present {
		rec = new(srcRec)
		srv.senders[key] = rec
	}
	rec.received += 1
	if pkt.seq > rec.highest {
		rec.highest = pkt.seq
	}
}

// lost counts the datagrams missing below the highest sequence number of each sender
func (srv *serverApp) lost() int {
	lost := 0
	for _, rec := range srv.senders {
		if missing := int(rec.highest) + 1 - rec.received; missing > 0 {
			lost += missing
		}
	}
	return lost
}
