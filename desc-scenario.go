package lanchain

// desc-scenario.go holds the serializable description of a scenario.  A
// ScenarioDesc is read from a yaml or json file, completed by Defaults, and
// turned into a Scenario with its flows by BuildScenario.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port servers listen on when a flow names none
const DefaultPort uint16 = 5000

// DefaultPacketSize is the UDP payload of a flow that names none, in bytes
const DefaultPacketSize = 1024

// DefaultRoutesAt is when the routing tables are dumped, in seconds
const DefaultRoutesAt = 1.0

// FlowDesc describes one flow by node names
type FlowDesc struct {
	// Server names the terminal listening
	Server string `json:"server" yaml:"server"`

	// Clients names the sending terminals, "*" meaning every other terminal
	Clients []string `json:"clients" yaml:"clients"`

	FlowSpec `yaml:",inline"`
}

// ScenarioDesc is the file form of a scenario
type ScenarioDesc struct {
	Name string `json:"name" yaml:"name"`

	// Duration of the simulation in seconds, and the default stop of flows
	Duration float64 `json:"duration" yaml:"duration"`

	// GuardBand, when absent, is DefaultGuardBand
	GuardBand *float64 `json:"guardband,omitempty" yaml:"guardband,omitempty"`

	Link     LinkParams `json:"link" yaml:"link"`
	Backbone LinkParams `json:"backbone" yaml:"backbone"`

	Addressing AddrConfig `json:"addressing" yaml:"addressing"`

	// Terminals is the short form of Routers: router i gets one
	// terminal-facing segment with Terminals[i] terminals
	Terminals []int          `json:"terminals,omitempty" yaml:"terminals,omitempty"`
	Routers   []RouterConfig `json:"routers,omitempty" yaml:"routers,omitempty"`

	Overrides []LinkOverride `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Flows     []FlowDesc     `json:"flows" yaml:"flows"`

	Trace  TraceOptions `json:"trace" yaml:"trace"`
	Engine EngineConfig `json:"engine" yaml:"engine"`
}

// CreateScenarioDesc is a constructor
func CreateScenarioDesc(name string, duration float64) *ScenarioDesc {
	sd := new(ScenarioDesc)
	sd.Name = name
	sd.Duration = duration
	sd.Terminals = make([]int, 0)
	sd.Flows = make([]FlowDesc, 0)
	return sd
}

// AddFlow appends a flow to the description
func (sd *ScenarioDesc) AddFlow(server string, clients []string, spec FlowSpec) {
	sd.Flows = append(sd.Flows, FlowDesc{Server: server, Clients: clients, FlowSpec: spec})
}

// ReadScenarioDesc deserializes a byte slice holding a representation of a ScenarioDesc.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadScenarioDesc(filename string, useYAML bool, dict []byte) (*ScenarioDesc, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	desc := ScenarioDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &desc)
	} else {
		err = json.Unmarshal(dict, &desc)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	return &desc, nil
}

// UseYAML tells from the extension of filename whether it holds yaml
func UseYAML(filename string) bool {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return true
	}
	return false
}

// WriteToFile stores the ScenarioDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sd *ScenarioDesc) WriteToFile(filename string) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*sd)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*sd, "", "\t")
	default:
		return fmt.Errorf("%s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// Defaults fills in every field left at its zero value
func (sd *ScenarioDesc) Defaults() {
	if len(sd.Name) == 0 {
		sd.Name = "lanchain"
	}
	if sd.GuardBand == nil {
		gb := DefaultGuardBand
		sd.GuardBand = &gb
	}
	sd.Link = sd.Link.fillDefaults(DefaultLinkParams())
	sd.Backbone = sd.Backbone.fillDefaults(sd.Link)

	dfltAddr := DefaultAddrConfig()
	if len(sd.Addressing.TerminalPool) == 0 {
		sd.Addressing.TerminalPool = dfltAddr.TerminalPool
	}
	if len(sd.Addressing.BackbonePool) == 0 {
		sd.Addressing.BackbonePool = dfltAddr.BackbonePool
	}
	if sd.Addressing.Width == 0 {
		sd.Addressing.Width = dfltAddr.Width
	}

	for idx := range sd.Flows {
		spec := &sd.Flows[idx].FlowSpec
		if spec.Port == 0 {
			spec.Port = DefaultPort
		}
		if spec.PacketSize == 0 {
			spec.PacketSize = DefaultPacketSize
		}
		if spec.Interval == 0 {
			spec.Interval = 1.0
		}
		if spec.Stop == 0 {
			spec.Stop = sd.Duration
		}
	}

	if len(sd.Trace.Prefix) == 0 {
		sd.Trace.Prefix = sd.Name
	}
	if sd.Trace.Routes && sd.Trace.RoutesAt == 0 {
		sd.Trace.RoutesAt = DefaultRoutesAt
	}
	if sd.Engine.Horizon == 0 {
		sd.Engine.Horizon = sd.Duration
	}
}

// chainConfig returns the topology part of the description
func (sd *ScenarioDesc) chainConfig() (ChainConfig, error) {
	if len(sd.Routers) > 0 && len(sd.Terminals) > 0 {
		return ChainConfig{}, newScenarioError(ErrMalformedTopology, "scenario", 0,
			"both routers and terminals given")
	}
	cc := ChainConfig{Routers: sd.Routers}
	if len(sd.Routers) == 0 {
		cc = ChainFromCounts(sd.Terminals, sd.Link)
	}
	cc.Link = sd.Link
	cc.Backbone = sd.Backbone
	cc.Overrides = sd.Overrides
	return cc, nil
}

// BuildScenario completes the description with defaults, builds its
// topology and records its flows.  All flow errors are reported together.
func BuildScenario(sd *ScenarioDesc) (*Scenario, error) {
	sd.Defaults()

	cc, err := sd.chainConfig()
	if err != nil {
		return nil, err
	}
	cfg := ScenarioConfig{
		Name:       sd.Name,
		Chain:      cc,
		Addressing: sd.Addressing,
		GuardBand:  *sd.GuardBand,
		Duration:   sd.Duration,
	}
	sc, err := NewChainScenario(cfg)
	if err != nil {
		return nil, err
	}

	errs := []error{}
	for _, fd := range sd.Flows {
		if _, err := sc.AddFlow(fd.Server, fd.Clients, fd.FlowSpec); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return sc, nil
}
