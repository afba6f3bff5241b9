// Package integration holds the values that flow between triggers, the
// per-project integrator and the queues: build conditions, requests and the
// single-slot request latch.
package integration

import (
	"fmt"
	"strings"
)

// BuildCondition is the strength of a build request. The numeric order is the
// priority order: NoBuild < IfModificationExists < ForceBuild.
type BuildCondition int

const (
	NoBuild BuildCondition = iota
	IfModificationExists
	ForceBuild
)

func (c BuildCondition) String() string {
	switch c {
	case NoBuild:
		return "NoBuild"
	case IfModificationExists:
		return "IfModificationExists"
	case ForceBuild:
		return "ForceBuild"
	default:
		return fmt.Sprintf("BuildCondition(%d)", int(c))
	}
}

// ParseBuildCondition accepts the names above case-insensitively.
// An empty string yields def.
func ParseBuildCondition(s string, def BuildCondition) (BuildCondition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "nobuild":
		return NoBuild, nil
	case "ifmodificationexists":
		return IfModificationExists, nil
	case "forcebuild":
		return ForceBuild, nil
	default:
		return NoBuild, fmt.Errorf("unknown build condition %q", s)
	}
}

func (c BuildCondition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *BuildCondition) UnmarshalText(b []byte) error {
	v, err := ParseBuildCondition(string(b), NoBuild)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Activity is what a project is doing right now.
type Activity int

const (
	Sleeping Activity = iota
	Pending
	CheckingModifications
	Building
)

func (a Activity) String() string {
	switch a {
	case Sleeping:
		return "Sleeping"
	case Pending:
		return "Pending"
	case CheckingModifications:
		return "CheckingModifications"
	case Building:
		return "Building"
	default:
		return fmt.Sprintf("Activity(%d)", int(a))
	}
}

func (a Activity) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Activity) UnmarshalText(b []byte) error {
	for v := Sleeping; v <= Building; v++ {
		if strings.EqualFold(string(b), v.String()) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown activity %q", b)
}

// IntegratorState is the lifecycle state of a project's control loop.
type IntegratorState int

const (
	Stopped IntegratorState = iota
	Running
	Stopping
)

func (s IntegratorState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return fmt.Sprintf("IntegratorState(%d)", int(s))
	}
}

func (s IntegratorState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *IntegratorState) UnmarshalText(b []byte) error {
	for v := Stopped; v <= Stopping; v++ {
		if strings.EqualFold(string(b), v.String()) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown integrator state %q", b)
}

// BuildStatus is the outcome of one integration.
type BuildStatus string

const (
	StatusUnknown   BuildStatus = "Unknown"
	StatusSuccess   BuildStatus = "Success"
	StatusFailure   BuildStatus = "Failure"
	StatusException BuildStatus = "Exception"
	StatusCancelled BuildStatus = "Cancelled"
)
