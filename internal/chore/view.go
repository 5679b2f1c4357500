package chore

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dukerupert/taskie/internal/model"
)

const viewerDisplayName = "You"

// View is a chore with its derived lifecycle fields resolved for one viewer.
type View struct {
	model.Chore
	Status        Status `json:"status"`
	StatusLabel   string `json:"status_label"`
	Action        Action `json:"action"`
	CanRelease    bool   `json:"can_release"`
	RequestorName string `json:"requestor_name"`
	AcceptorName  string `json:"acceptor_name,omitempty"`
	CreatedAgo    string `json:"created_ago"`
	FinishedAgo   string `json:"finished_ago,omitempty"`
}

// NewView derives status and action for the viewer and resolves display names
// from members. The viewer's own name renders as "You"; unknown ids render empty.
func NewView(c model.Chore, viewer *int64, members map[int64]model.MemberProfile, now time.Time) View {
	status := DeriveStatus(c)
	v := View{
		Chore:         c,
		Status:        status,
		StatusLabel:   StatusLabel(status),
		Action:        DeriveAction(c, viewer),
		CanRelease:    CanRelease(c, viewer),
		RequestorName: displayName(c.RequestorID, viewer, members),
		CreatedAgo:    humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
	}
	if c.AcceptorID != nil {
		v.AcceptorName = displayName(*c.AcceptorID, viewer, members)
	}
	if c.FinishedAt != nil {
		v.FinishedAgo = humanize.RelTime(*c.FinishedAt, now, "ago", "from now")
	}
	return v
}

func displayName(id int64, viewer *int64, members map[int64]model.MemberProfile) string {
	if viewer != nil && *viewer == id {
		return viewerDisplayName
	}
	return members[id].Name
}
