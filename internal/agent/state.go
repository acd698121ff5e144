package agent

import "fmt"

// RunState is what an agent is doing right now.
type RunState int

const (
	Stopped RunState = iota
	Running
	Waiting
	Errored
)

var stateNames = [...]string{
	Stopped: "stopped",
	Running: "running",
	Waiting: "waiting",
	Errored: "errored",
}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("RunState(%d)", int(s))
	}
	return stateNames[s]
}

func (s RunState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid run state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = RunState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}
