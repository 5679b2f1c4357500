package chore

import "github.com/dukerupert/taskie/internal/model"

// Status is a chore's lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAccepted Status = "accepted"
	StatusFinished Status = "finished"
)

// DeriveStatus maps a chore's acceptor and finish fields to its lifecycle state.
// A finished chore is Finished regardless of its acceptor.
func DeriveStatus(c model.Chore) Status {
	switch {
	case c.FinishedAt != nil:
		return StatusFinished
	case c.AcceptorID != nil:
		return StatusAccepted
	default:
		return StatusOpen
	}
}

// StatusLabel is the user-facing label for a status. Open chores carry no label.
func StatusLabel(s Status) string {
	switch s {
	case StatusFinished:
		return "Finished"
	case StatusAccepted:
		return "Pending"
	default:
		return ""
	}
}

// DisplayStatusLabel returns the label shown next to a chore.
func DisplayStatusLabel(c model.Chore) string {
	return StatusLabel(DeriveStatus(c))
}
