package chore

import "github.com/dukerupert/taskie/internal/model"

// Action is the single next step a viewer may take on a chore.
type Action string

const (
	ActionAccept      Action = "accept"
	ActionFinish      Action = "finish"
	ActionWithdraw    Action = "withdraw"
	ActionNone        Action = "none"
	ActionUnavailable Action = "unavailable"
)

// DeriveAction decides what the viewer can do next. The checks run in order and
// the first match wins: a finished chore offers nothing, an unknown viewer is
// Unavailable, the requestor may always withdraw, the acceptor may finish, a
// third party may accept only an unclaimed chore.
func DeriveAction(c model.Chore, viewer *int64) Action {
	if c.FinishedAt != nil {
		return ActionNone
	}
	if viewer == nil {
		return ActionUnavailable
	}
	if *viewer == c.RequestorID {
		return ActionWithdraw
	}
	if c.AcceptorID != nil {
		if *viewer == *c.AcceptorID {
			return ActionFinish
		}
		return ActionNone
	}
	return ActionAccept
}

// Renderable reports whether a client should show an affordance for the action.
func (a Action) Renderable() bool {
	return a.IsCommand()
}

// IsCommand reports whether the action maps to a mutation on the chore.
func (a Action) IsCommand() bool {
	switch a {
	case ActionAccept, ActionFinish, ActionWithdraw:
		return true
	}
	return false
}

// Permits reports whether the viewer may issue command a against the chore in
// its current state.
func Permits(c model.Chore, viewer *int64, a Action) bool {
	return a.IsCommand() && DeriveAction(c, viewer) == a
}

// CanRelease reports whether the viewer holds the claim on an unfinished chore
// and may hand it back. DeriveAction reports Finish to the same viewer.
func CanRelease(c model.Chore, viewer *int64) bool {
	return viewer != nil &&
		c.FinishedAt == nil &&
		c.AcceptorID != nil &&
		*c.AcceptorID == *viewer &&
		c.RequestorID != *viewer
}
