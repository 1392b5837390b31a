package debate

import "fmt"

var allowedActionTable = map[State]map[Role][]Action{
	StateAwaitingOpponent: {
		RoleOpponent:   {ActionSubmitClaim},
		RoleArbitrator: {ActionSubmitIntervention},
	},
	StateAwaitingProposer: {
		RoleProposer:   {ActionSubmitClaim, ActionSubmitAppeal, ActionSubmitResolution},
		RoleArbitrator: {ActionSubmitIntervention},
	},
	StateAwaitingArbitrator: {
		RoleArbitrator: {ActionSubmitRuling},
	},
	StateInterventionPending: {
		RoleArbitrator: {ActionSubmitRuling},
	},
	StateClosed: {},
}

type TransitionOptions struct {
	Close bool
}

// AllowedActions returns the actions role may take in state. The result is a
// fresh slice.
func AllowedActions(state State, role Role) []Action {
	actions := allowedActionTable[state][role]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

func CanPerform(state State, role Role, action Action) bool {
	for _, candidate := range allowedActionTable[state][role] {
		if candidate == action {
			return true
		}
	}
	return false
}

// AllowedRoles lists, in proposer/opponent/arbitrator order, the roles that
// have at least one action in state.
func AllowedRoles(state State) []Role {
	roles := make([]Role, 0, len(allRoles))
	for _, role := range allRoles {
		if len(allowedActionTable[state][role]) > 0 {
			roles = append(roles, role)
		}
	}
	return roles
}

// NextState applies one argument to state. ok is false when no rule covers
// the (type, role) pair; the state is then returned unchanged.
func NextState(state State, argType ArgumentType, role Role, opts TransitionOptions) (next State, ok bool) {
	if state == StateClosed {
		return StateClosed, true
	}
	switch {
	case argType == ArgumentMotion && role == RoleProposer:
		return StateAwaitingOpponent, true
	case argType == ArgumentClaim && role == RoleOpponent:
		return StateAwaitingProposer, true
	case argType == ArgumentClaim && role == RoleProposer:
		return StateAwaitingOpponent, true
	case (argType == ArgumentAppeal || argType == ArgumentResolution) && role == RoleProposer:
		return StateAwaitingArbitrator, true
	case argType == ArgumentIntervention && role == RoleArbitrator:
		return StateInterventionPending, true
	case argType == ArgumentRuling && role == RoleArbitrator:
		if opts.Close {
			return StateClosed, true
		}
		return StateAwaitingProposer, true
	}
	return state, false
}

// Replay folds an argument log, ordered by seq, through NextState. The close
// flag is not stored on arguments, so a trailing ruling closes the debate
// only when cached is CLOSED.
func Replay(arguments []Argument, cached State) (State, error) {
	if len(arguments) == 0 {
		return "", fmt.Errorf("%w: empty argument log", ErrInvalidInput)
	}
	if arguments[0].Type != ArgumentMotion || arguments[0].Seq != 1 {
		return "", fmt.Errorf("%w: log does not start with a motion", ErrInvalidInput)
	}
	var state State
	for i, argument := range arguments {
		if argument.Seq != int64(i+1) {
			return "", fmt.Errorf("%w: seq gap at position %d (seq %d)", ErrInvalidInput, i+1, argument.Seq)
		}
		opts := TransitionOptions{}
		if argument.Type == ArgumentRuling && i == len(arguments)-1 && cached == StateClosed {
			opts.Close = true
		}
		if i == 0 {
			state, _ = NextState(StateAwaitingOpponent, argument.Type, argument.Role, opts)
			continue
		}
		next, ok := NextState(state, argument.Type, argument.Role, opts)
		if !ok {
			return "", fmt.Errorf("%w: argument %s (%s by %s) has no transition from %s", ErrInvalidInput, argument.ID, argument.Type, argument.Role, state)
		}
		state = next
	}
	return state, nil
}

func actionForType(argType ArgumentType) Action {
	switch argType {
	case ArgumentClaim:
		return ActionSubmitClaim
	case ArgumentAppeal:
		return ActionSubmitAppeal
	case ArgumentResolution:
		return ActionSubmitResolution
	case ArgumentIntervention:
		return ActionSubmitIntervention
	case ArgumentRuling:
		return ActionSubmitRuling
	default:
		return ""
	}
}

// DeriveWaitAction tells a waiting proposer or opponent what to do about
// the newest argument. A closed debate overrides everything else.
func DeriveWaitAction(state State, argType ArgumentType, author Role, waiter Role) WaitAction {
	if state == StateClosed {
		return WaitDebateClosed
	}
	switch argType {
	case ArgumentClaim:
		return WaitRespond
	case ArgumentAppeal, ArgumentResolution:
		if author == RoleProposer && (waiter == RoleProposer || waiter == RoleOpponent) {
			return WaitForRuling
		}
	case ArgumentRuling:
		if author == RoleArbitrator && waiter == RoleProposer {
			return WaitAlignToRuling
		}
		if author == RoleArbitrator && waiter == RoleOpponent {
			return WaitForProposer
		}
	case ArgumentIntervention:
		if author == RoleArbitrator && (waiter == RoleProposer || waiter == RoleOpponent) {
			return WaitForRuling
		}
	}
	return WaitRespond
}
