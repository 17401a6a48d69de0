package research

// State is the controller's position in the research loop.
type State int

const (
	StateInit State = iota
	StateQuerying
	StateResearching
	StateReflecting
	StateSynthesizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateQuerying:
		return "QUERYING"
	case StateResearching:
		return "RESEARCHING"
	case StateReflecting:
		return "REFLECTING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// stepInput captures everything a transition may depend on. Keeping the
// transition pure makes the termination argument checkable by inspection:
// the only edge that re-enters RESEARCHING requires iteration < ceiling.
type stepInput struct {
	emptyBatch bool // QUERYING produced no queries, or follow-ups deduped to nothing
	sufficient bool // reflector verdict
	atCeiling  bool // iteration count has reached the configured maximum
	cancelled  bool // run context is done
}

// nextState is the pure transition function for the loop.
func nextState(s State, in stepInput) State {
	if in.cancelled && s != StateSynthesizing && s != StateDone {
		return StateSynthesizing
	}
	switch s {
	case StateInit:
		return StateQuerying
	case StateQuerying:
		if in.emptyBatch {
			return StateSynthesizing
		}
		return StateResearching
	case StateResearching:
		return StateReflecting
	case StateReflecting:
		if in.sufficient || in.atCeiling || in.emptyBatch {
			return StateSynthesizing
		}
		return StateResearching
	case StateSynthesizing:
		return StateDone
	default:
		return StateDone
	}
}
