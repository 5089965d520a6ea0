package contractreview

import (
	"fmt"

	"go.uber.org/zap"
)

var allowedTransitions = map[State][]State{
	StateIdle:               {StateChunking, StateFailed},
	StateChunking:           {StatePerChunkExtraction, StateFailed},
	StatePerChunkExtraction: {StateAggregating, StateFailed},
	StateAggregating:        {StateSynthesizing, StateFailed},
	StateSynthesizing:       {StateComplete, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether from -> to is a legal pipeline step.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	current State
	trace   []State
	log     *zap.Logger
}

func newStateMachine(log *zap.Logger) *stateMachine {
	return &stateMachine{current: StateIdle, trace: []State{StateIdle}, log: log}
}

func (m *stateMachine) transition(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}
	m.log.Debug("state transition", zap.String("from", string(m.current)), zap.String("to", string(to)))
	m.current = to
	m.trace = append(m.trace, to)
	return nil
}

func (m *stateMachine) Trace() []State {
	return append([]State(nil), m.trace...)
}
