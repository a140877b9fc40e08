package lanchain

// param.go applies link parameter overrides to segments once the topology is
// built.  An override names the segments it applies to through an attribute
// ("*", "kind=...", "name=..."), and overrides are applied from the most general
// to the most specific so that a named segment always wins over its kind,
// which always wins over the wildcard.

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// LinkOverride changes the medium parameters of every segment it matches
type LinkOverride struct {
	// Match is "*", "kind=lan", "kind=backbone" or "name=<segment name>"
	Match string `json:"match" yaml:"match"`

	// DataRate in Mbps, zero leaves the current value
	DataRate float64 `json:"datarate" yaml:"datarate"`

	// Delay in seconds, zero leaves the current value
	Delay float64 `json:"delay" yaml:"delay"`
}

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName, AttrbValue string
}

// parseMatch splits an override's Match field into an attribute
func parseMatch(match string) (AttrbStruct, error) {
	match = strings.TrimSpace(match)
	if match == "*" {
		return AttrbStruct{AttrbName: "*"}, nil
	}

	name, value, found := strings.Cut(match, "=")
	if !found || len(value) == 0 {
		return AttrbStruct{}, fmt.Errorf("%w: override match %q", ErrMalformedTopology, match)
	}

	name = strings.TrimSpace(name)
	switch name {
	case "kind", "name":
	default:
		return AttrbStruct{}, fmt.Errorf("%w: override attribute %q", ErrMalformedTopology, name)
	}
	return AttrbStruct{AttrbName: name, AttrbValue: strings.TrimSpace(value)}, nil
}

// generality ranks an attribute, wildcard first and names last
func (as AttrbStruct) generality() int {
	switch as.AttrbName {
	case "*":
		return 0
	case "kind":
		return 1
	}
	return 2
}

// matchParam reports whether the segment carries the attribute value
func (seg *Segment) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "*":
		return true
	case "kind":
		return seg.Kind.String() == attrbValue
	case "name":
		return seg.Name == attrbValue
	}
	return false
}

// setParam assigns one medium parameter
func (seg *Segment) setParam(paramType string, value float64) {
	switch paramType {
	case "datarate":
		seg.Link.DataRate = value
	case "delay":
		seg.Link.Delay = value
	}
}

// applyLinkOverrides applies the overrides, most general first.  Overrides of
// the same generality keep the order they were given in.
func applyLinkOverrides(segs []*Segment, overrides []LinkOverride) error {
	type parsedOverride struct {
		attrb AttrbStruct
		ovr   LinkOverride
	}

	parsed := make([]parsedOverride, 0, len(overrides))
	errs := []error{}
	for _, ovr := range overrides {
		attrb, err := parseMatch(ovr.Match)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ovr.DataRate < 0 || ovr.Delay < 0 {
			errs = append(errs, fmt.Errorf("%w: negative link parameter in override %q", ErrMalformedTopology, ovr.Match))
			continue
		}
		parsed = append(parsed, parsedOverride{attrb: attrb, ovr: ovr})
	}
	if err := ReportErrs(errs); err != nil {
		return err
	}

	slices.SortStableFunc(parsed, func(a, b parsedOverride) int {
		return a.attrb.generality() - b.attrb.generality()
	})

	for _, po := range parsed {
		matched := 0
		for _, seg := range segs {
			if !seg.matchParam(po.attrb.AttrbName, po.attrb.AttrbValue) {
				continue
			}
			matched += 1
			if po.ovr.DataRate > 0 {
				seg.setParam("datarate", po.ovr.DataRate)
			}
			if po.ovr.Delay > 0 {
				seg.setParam("delay", po.ovr.Delay)
			}
		}

		// a named segment that does not exist is almost certainly a typo
		if matched == 0 && po.attrb.AttrbName == "name" {
			return fmt.Errorf("%w: override names unknown segment %q", ErrMalformedTopology, po.attrb.AttrbValue)
		}
	}
	return nil
}
