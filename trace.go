package lanchain

// trace.go holds the trace outputs of a simulation run.  A traceSink gathers
// the ascii event trace, the per-interface capture files, the routing table
// dump and the TraceManager, whose records are written out as yaml or json
// when the sink is closed.

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/apex/log"
	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one record held by the TraceManager
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers information about the objects of a simulation and the
// packet events seen at them
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records, saved by the objID of the segment they happened on
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  When active is false the calls that
// add names and traces do nothing, so they can be embedded everywhere.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the TraceManager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a trace record under the given object id
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	_, present := tm.Traces[objID]
	if !present {
		tm.Traces[objID] = make([]TraceInst, 0)
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName adds an element to the id -> (name,type) dictionary
func (tm *TraceManager) AddName(id int, name string, objDesc string) error {
	if !tm.InUse {
		return nil
	}
	_, present := tm.NameByID[id]
	if present {
		return fmt.Errorf("duplicated trace object id %d (%s)", id, name)
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	return nil
}

// WriteToFile stores the TraceManager in the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	default:
		return fmt.Errorf("trace summary %s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// PacketTrace saves information about the visit of a packet to an interface
type PacketTrace struct {
	Time     float64 `yaml:"time"`
	Ticks    int64   `yaml:"ticks"`
	Priority int64   `yaml:"priority"`
	ObjID    int     `yaml:"objid"` // interface, or node for drops
	Op       string  `yaml:"op"`    // "enqueue", "dequeue", "receive", "drop"
	PktID    int     `yaml:"pktid"`
	Seq      uint32  `yaml:"seq"`
	Src      string  `yaml:"src"`
	Dst      string  `yaml:"dst"`
	Len      int     `yaml:"len"`
}

// Serialize returns the yaml image of the record
func (ptr *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ptr)
	if merr != nil {
		return merr.Error()
	}
	return string(bytes[:])
}

var traceOpToStr map[byte]string = map[byte]string{'+': "enqueue", '-': "dequeue", 'r': "receive", 'd': "drop"}

// traceSink is the set of trace outputs of one run of an EvtEngine
type traceSink struct {
	opts   TraceOptions
	paths  []string
	ascii  *os.File
	abw    *bufio.Writer
	pcaps  map[*simIntrfc]*pcapWriter
	tm     *TraceManager
	errs   []error
	closed bool
}

// tracePath returns dir/prefix+suffix
func (opts TraceOptions) tracePath(suffix string) string {
	return filepath.Join(opts.Dir, opts.Prefix+suffix)
}

// createTraceSink opens the outputs selected by opts for the interfaces of
// the engine.  On error everything opened so far is closed again.
func createTraceSink(opts TraceOptions, expName string, intrfcs []*simIntrfc) (*traceSink, error) {
	if len(opts.Prefix) == 0 {
		opts.Prefix = expName
	}
	if len(opts.Dir) > 0 {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
	}
	if opts.Routes && opts.RoutesAt < 0 {
		return nil, fmt.Errorf("routing table dump time %g is negative", opts.RoutesAt)
	}

	ts := &traceSink{opts: opts, paths: []string{}, pcaps: make(map[*simIntrfc]*pcapWriter)}
	ts.tm = CreateTraceManager(expName, len(opts.Summary) > 0)

	if opts.Ascii {
		asciiPath := opts.tracePath(".tr")
		file, err := os.Create(asciiPath)
		if err != nil {
			return nil, err
		}
		ts.ascii = file
		ts.abw = bufio.NewWriter(file)
		ts.paths = append(ts.paths, asciiPath)
	}

	if opts.Pcap {
		for _, intrfc := range intrfcs {
			pcapPath := opts.tracePath(fmt.Sprintf("-%d-%d.pcap", intrfc.node.id, intrfc.index))
			pcw, err := createPcapWriter(pcapPath)
			if err != nil {
				ts.Close()
				return nil, err
			}
			ts.pcaps[intrfc] = pcw
			ts.paths = append(ts.paths, pcapPath)
		}
	}

	if opts.Routes {
		ts.paths = append(ts.paths, opts.tracePath("-global-routing.routes"))
	}
	if ts.tm.Active() {
		ts.paths = append(ts.paths, ts.summaryPath())
	}
	return ts, nil
}

// summaryPath places a bare summary file name in the trace directory
func (ts *traceSink) summaryPath() string {
	if filepath.IsAbs(ts.opts.Summary) || len(ts.opts.Dir) == 0 {
		return ts.opts.Summary
	}
	return filepath.Join(ts.opts.Dir, ts.opts.Summary)
}

// Paths lists the files the sink writes
func (ts *traceSink) Paths() []string {
	return ts.paths
}

// open reports whether records are still accepted
func (ts *traceSink) open() bool {
	return ts != nil && !ts.closed
}

// record notes one packet event.  where is the namespace path of the
// interface, objID its trace object id.
func (ts *traceSink) record(op byte, vrt vrtime.Time, where string, objID int, pkt *packet) {
	now := vrt.Seconds()
	if ts.abw != nil {
		line := fmt.Sprintf("%c %s %s %s.%d > %s.%d udp id=%d seq=%d length: %d\n",
			op, strconv.FormatFloat(now, 'f', -1, 64), where,
			pkt.src, pkt.srcPort, pkt.dst, pkt.dstPort, pkt.uid, pkt.seq, pkt.size)
		if _, err := ts.abw.WriteString(line); err != nil {
			ts.fail(err)
		}
	}

	if ts.tm.Active() {
		ptr := &PacketTrace{Time: now, Ticks: vrt.Ticks(), Priority: vrt.Pri(), ObjID: objID,
			Op: traceOpToStr[op], PktID: pkt.uid, Seq: pkt.seq,
			Src: pkt.src.String(), Dst: pkt.dst.String(), Len: pkt.size}
		inst := TraceInst{TraceTime: strconv.FormatFloat(now, 'f', -1, 64), TraceType: "packet", TraceStr: ptr.Serialize()}
		ts.tm.AddTrace(vrt, objID, inst)
	}
}

// capture writes the frame from src to dst into the capture file of at
func (ts *traceSink) capture(at *simIntrfc, now float64, src, dst *simIntrfc, pkt *packet) {
	pcw, present := ts.pcaps[at]
	if !present {
		return
	}
	if err := pcw.writeFrame(now, src, dst, pkt); err != nil {
		ts.fail(err)
	}
}

// dumpRoutes writes the routing tables of nodes
func (ts *traceSink) dumpRoutes(now float64, nodes []*simNode) {
	routesPath := ts.opts.tracePath("-global-routing.routes")
	file, err := os.Create(routesPath)
	if err != nil {
		ts.fail(err)
		return
	}
	if err := writeRoutes(file, now, nodes); err != nil {
		ts.fail(err)
	}
	if err := file.Close(); err != nil {
		ts.fail(err)
	}
}

// fail remembers a write error, logging only the first
func (ts *traceSink) fail(err error) {
	if len(ts.errs) == 0 {
		log.WithError(err).Warn("trace output")
	}
	ts.errs = append(ts.errs, err)
}

// Close flushes and closes every output.  Closing twice does nothing.
func (ts *traceSink) Close() error {
	if ts.closed {
		return nil
	}
	ts.closed = true

	errs := ts.errs
	if ts.abw != nil {
		errs = append(errs, ts.abw.Flush(), ts.ascii.Close())
	}
	for _, pcw := range ts.pcaps {
		errs = append(errs, pcw.close())
	}
	if ts.tm.Active() {
		errs = append(errs, ts.tm.WriteToFile(ts.summaryPath()))
	}
	return errors.Join(errs...)
}
