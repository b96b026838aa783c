package escrow

import "fmt"

// allowedTransitions is the closed transition table. A transition absent from
// the table is illegal regardless of caller role; no transition is inferred
// by similarity to the current status.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusBidding:   {},
		StatusCancelled: {},
	},
	StatusBidding: {
		StatusAccepted:  {},
		StatusCancelled: {},
	},
	StatusAccepted: {
		StatusDesignSubmitted: {},
		StatusCancelled:       {},
	},
	StatusDesignSubmitted: {
		StatusDesignApproved: {},
		StatusAccepted:       {}, // reject edge
		StatusCancelled:      {},
	},
	StatusDesignApproved: {
		StatusImplementationSubmitted: {},
		StatusCancelled:               {},
	},
	StatusImplementationSubmitted: {
		StatusImplementationApproved: {},
		StatusDesignApproved:         {}, // reject edge
		StatusCancelled:              {},
	},
	StatusImplementationApproved: {
		StatusFinalSubmitted: {},
		StatusCancelled:      {},
	},
	StatusFinalSubmitted: {
		StatusCompleted:              {},
		StatusImplementationApproved: {}, // reject edge
		StatusCancelled:              {},
	},
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether s accepts no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	if _, ok := allowedTransitions[s]; ok {
		return true
	}
	return IsTerminal(s)
}

// SubmitStates returns the (from, to) statuses for submitting milestone m.
func SubmitStates(m Milestone) (from, to Status, err error) {
	switch m {
	case MilestoneDesign:
		return StatusAccepted, StatusDesignSubmitted, nil
	case MilestoneImplementation:
		return StatusDesignApproved, StatusImplementationSubmitted, nil
	case MilestoneFinal:
		return StatusImplementationApproved, StatusFinalSubmitted, nil
	}
	return "", "", fmt.Errorf("%w: unknown milestone %q", ErrIllegalTransition, m)
}

// ReviewStates returns the statuses involved in reviewing milestone m:
// the *_submitted state the task must be in, the status on approval, and the
// status a rejection steps back to.
func ReviewStates(m Milestone) (submitted, approved, rejected Status, err error) {
	switch m {
	case MilestoneDesign:
		return StatusDesignSubmitted, StatusDesignApproved, StatusAccepted, nil
	case MilestoneImplementation:
		return StatusImplementationSubmitted, StatusImplementationApproved, StatusDesignApproved, nil
	case MilestoneFinal:
		return StatusFinalSubmitted, StatusCompleted, StatusImplementationApproved, nil
	}
	return "", "", "", fmt.Errorf("%w: unknown milestone %q", ErrIllegalTransition, m)
}

// CheckTransition validates a requested from -> to edge against the table and
// the task's terminal flags, returning the matching taxonomy error.
func CheckTransition(t *Task, from, to Status) error {
	if t.Cancelled || IsTerminal(t.Status) {
		return fmt.Errorf("%w: task %s is %s", ErrAlreadyTerminal, t.TaskID, t.Status)
	}
	if t.Status != from {
		return fmt.Errorf("%w: task %s is %s, not %s", ErrIllegalTransition, t.TaskID, t.Status, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// RequireCreator fails unless actor is the task's creator.
func RequireCreator(t *Task, actor string) error {
	if actor == "" || actor != t.Creator {
		return fmt.Errorf("%w: only the creator of task %s may perform this action", ErrIllegalTransition, t.TaskID)
	}
	return nil
}

// RequireExecutor fails unless actor is the task's selected executor.
func RequireExecutor(t *Task, actor string) error {
	if t.Executor == "" || actor != t.Executor {
		return fmt.Errorf("%w: only the executor of task %s may perform this action", ErrIllegalTransition, t.TaskID)
	}
	return nil
}

// RequireParty fails unless actor is the creator or the executor.
func RequireParty(t *Task, actor string) error {
	if actor == t.Creator {
		return nil
	}
	if t.Executor != "" && actor == t.Executor {
		return nil
	}
	return fmt.Errorf("%w: only the creator or executor of task %s may perform this action", ErrIllegalTransition, t.TaskID)
}
