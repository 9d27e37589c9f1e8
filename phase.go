package trafficlight

import (
	"fmt"
	"strings"
)

type Phase string

const (
	PhaseRed   Phase = "red"
	PhaseGreen Phase = "green"
)

// Toggle returns the opposite phase. Anything that is not green toggles to
// green from the initial red.
func (p Phase) Toggle() Phase {
	switch p {
	case PhaseGreen:
		return PhaseRed
	default:
		return PhaseGreen
	}
}

func (p Phase) String() string {
	return string(p)
}

func (p Phase) Valid() bool {
	return p == PhaseRed || p == PhaseGreen
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid phase %q: must be red or green", s)
	}
	return p, nil
}
