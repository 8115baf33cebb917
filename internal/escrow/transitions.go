package escrow

import "fmt"

// movement is the custody effect attached to a transition.
type movement uint8

const (
	moveNone movement = iota
	moveDeposit
	movePayoutSeller
	movePayoutBuyer
)

type transition struct {
	to   Status
	move movement
}

type transitionTable map[Status]map[Action]transition

var expandedTransitions = transitionTable{
	StatusCreated: {
		ActionAccept: {to: StatusAccepted},
		ActionRefund: {to: StatusRefunded},
	},
	StatusAccepted: {
		ActionFund:   {to: StatusFunded, move: moveDeposit},
		ActionRefund: {to: StatusRefunded},
	},
	StatusFunded: {
		ActionMarkDelivered: {to: StatusDelivered},
	},
	StatusDelivered: {
		ActionRelease: {to: StatusCompleted, move: movePayoutSeller},
	},
}

var simpleTransitions = transitionTable{
	StatusCreated: {
		ActionAccept: {to: StatusAccepted},
		ActionRefund: {to: StatusRefunded, move: movePayoutBuyer},
	},
	StatusAccepted: {
		ActionRelease: {to: StatusCompleted, move: movePayoutSeller},
	},
}

// initial returns the creation transition of variant v.
func initial(v Variant) transition {
	if v == VariantSimple {
		return transition{to: StatusCreated, move: moveDeposit}
	}
	return transition{to: StatusCreated}
}

// next is total over (status, action): it returns the transition or the
// rejection for every pair, including unknown values.
func next(v Variant, from Status, action Action) (transition, error) {
	if !from.Valid() {
		return transition{}, fmt.Errorf("%w: unknown status %d", ErrInvalidState, uint8(from))
	}
	if from.Terminal() {
		return transition{}, fmt.Errorf("%w: %w: cannot %s in status %s", ErrInvalidState, ErrAlreadySettled, action, from)
	}
	table := expandedTransitions
	if v == VariantSimple {
		table = simpleTransitions
	}
	tr, ok := table[from][action]
	if !ok {
		return transition{}, fmt.Errorf("%w: cannot %s in status %s", ErrInvalidState, action, from)
	}
	return tr, nil
}
