package orchestrator

import "fmt"

// State is a step of handling one message.
type State int

const (
	StateClassifying State = iota
	StateAnswering
	StateDelegating
	StateSynthesizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateClassifying:
		return "classifying"
	case StateAnswering:
		return "answering"
	case StateDelegating:
		return "delegating"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transitions lists the legal successors of each state. Done has none.
var transitions = map[State][]State{
	StateClassifying:  {StateAnswering, StateDelegating},
	StateAnswering:    {StateSynthesizing},
	StateDelegating:   {StateSynthesizing},
	StateSynthesizing: {StateDone},
}

// machine tracks the state of one request.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StateClassifying, trail: []State{StateClassifying}}
}

// advance moves to next, or returns an error if the table forbids it.
func (m *machine) advance(next State) error {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			m.trail = append(m.trail, next)
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", m.state, next)
}
