package lanchain

// errors.go holds the error kinds reported while a scenario is assembled
// and validated.  None of them are transient; every one signals a
// configuration mistake and aborts construction or commit.

import (
	"errors"
	"fmt"
)

// ErrExhaustedAddressSpace indicates that an address pool has no free block left,
// or that a segment has more members than its subnet has host addresses.
var ErrExhaustedAddressSpace = errors.New("lanchain: address space exhausted")

// ErrInvalidWindow indicates a flow whose start time is not strictly before its stop time.
var ErrInvalidWindow = errors.New("lanchain: invalid flow window")

// ErrEmptyClientSet indicates a flow without clients.
var ErrEmptyClientSet = errors.New("lanchain: flow has no clients")

// ErrPortConflict indicates two flows using the same port on the same server
// during overlapping windows.
var ErrPortConflict = errors.New("lanchain: port conflict")

// ErrMalformedTopology indicates a chain with no routers, a terminal group
// without members, or a bad multi-homing reference.
var ErrMalformedTopology = errors.New("lanchain: malformed topology")

// ErrInvalidFlowSpec indicates a flow whose packet size, interval or model
// cannot be simulated.
var ErrInvalidFlowSpec = errors.New("lanchain: invalid flow spec")

// ErrUnknownNode indicates a selector that names no node of the scenario.
var ErrUnknownNode = errors.New("lanchain: unknown node")

// ErrAmbiguousServer indicates a multi-homed server for which the flow
// does not say which segment's address to target.
var ErrAmbiguousServer = errors.New("lanchain: ambiguous server address")

// ErrCommitted indicates an attempt to modify or re-run a committed scenario.
var ErrCommitted = errors.New("lanchain: scenario already committed")

// ScenarioError ties an error kind to the entity that caused it.
type ScenarioError struct {
	// Kind is one of the Err* sentinels above
	Kind error

	// Entity names the kind of offending object, e.g., "flow", "router", "group"
	Entity string

	// Index is the position of the offending object in its list
	Index int

	// Detail is free text
	Detail string
}

// Error implements error
func (se *ScenarioError) Error() string {
	if len(se.Detail) == 0 {
		return fmt.Sprintf("%s: %s %d", se.Kind, se.Entity, se.Index)
	}
	return fmt.Sprintf("%s: %s %d: %s", se.Kind, se.Entity, se.Index, se.Detail)
}

// Unwrap lets errors.Is find the kind
func (se *ScenarioError) Unwrap() error {
	return se.Kind
}

// newScenarioError is a constructor
func newScenarioError(kind error, entity string, index int, format string, args ...any) *ScenarioError {
	return &ScenarioError{Kind: kind, Entity: entity, Index: index, Detail: fmt.Sprintf(format, args...)}
}

// ReportErrs reduces a list of errors (some possibly nil) to one error,
// or nil when nothing in the list is an error.
func ReportErrs(errs []error) error {
	found := make([]error, 0)
	for _, err := range errs {
		if err != nil {
			found = append(found, err)
		}
	}
	if len(found) == 0 {
		return nil
	}
	return errors.Join(found...)
}
