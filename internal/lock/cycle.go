package lock

// Cycle is the ordered ring of non-exceptional states. The successor of the
// last element is the first.
var Cycle = []State{
	StateUnlocked,
	StateLockRequested,
	StateLocking,
	StateLocked,
	StateUnlockRequested,
	StateUnlocking,
}

// Path is the sequence of states to visit for one transition. It never
// contains the origin and, when non-empty, always ends with the target.
type Path []State

// Last returns the final state of the path, or StateUnknown for an empty path.
func (p Path) Last() State {
	if len(p) == 0 {
		return StateUnknown
	}
	return p[len(p)-1]
}

// PlanOptions tunes path planning.
type PlanOptions struct {
	// AllowRequestedStage permits routing through lock-requested or
	// unlock-requested when leaving an endpoint. Only set while a user
	// action is in flight.
	AllowRequestedStage bool
}

// Plan computes the states to traverse from one canonical state to another.
func Plan(from, to State, opts PlanOptions) Path {
	if to.IsExceptional() {
		return Path{to}
	}

	fromIndex, toIndex := cycleIndex(from), cycleIndex(to)
	if fromIndex < 0 || toIndex < 0 {
		return Path{to}
	}

	if fromIndex == toIndex {
		return Path{}
	}

	forward, backward := distances(fromIndex, toIndex)

	step := 1
	hops := forward
	if backward < forward {
		step = -1
		hops = backward
	}

	path := make(Path, 0, hops)
	n := len(Cycle)
	for i := fromIndex; i != toIndex; {
		i = (i + step + n) % n
		path = append(path, Cycle[i])
	}

	if !opts.AllowRequestedStage && entersRequestedStage(from, path) {
		return Path{to}
	}

	return path
}

// Distance returns the number of hops on the shortest route between two cycle
// members, or -1 if either lies outside the cycle.
func Distance(from, to State) int {
	fromIndex, toIndex := cycleIndex(from), cycleIndex(to)
	if fromIndex < 0 || toIndex < 0 {
		return -1
	}
	forward, backward := distances(fromIndex, toIndex)
	return min(forward, backward)
}

// distances returns forward and backward hop counts between two indices.
func distances(fromIndex, toIndex int) (forward, backward int) {
	n := len(Cycle)
	forward = (toIndex - fromIndex + n) % n
	backward = (fromIndex - toIndex + n) % n
	return forward, backward
}

// entersRequestedStage reports whether a path leaving an endpoint begins with
// that endpoint's requested stage.
func entersRequestedStage(from State, path Path) bool {
	if len(path) == 0 {
		return false
	}
	switch from {
	case StateUnlocked:
		return path[0] == StateLockRequested
	case StateLocked:
		return path[0] == StateUnlockRequested
	}
	return false
}

func cycleIndex(s State) int {
	for i, c := range Cycle {
		if c == s {
			return i
		}
	}
	return -1
}
