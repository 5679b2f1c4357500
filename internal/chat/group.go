package chat

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dukerupert/taskie/internal/model"
)

// Entry is a chat message annotated for display. Consecutive messages from the
// same sender form a run; FirstInSequence and LastInSequence mark its edges.
type Entry struct {
	model.ChatMessage
	SenderName      string `json:"sender_name"`
	SenderColor     string `json:"sender_color"`
	FromViewer      bool   `json:"from_viewer"`
	FirstInSequence bool   `json:"first_in_sequence"`
	LastInSequence  bool   `json:"last_in_sequence"`
	SentAgo         string `json:"sent_ago"`
}

// Group annotates msgs in order. A message is first in its run when it is the
// first message or the previous sender differs, and last when it is the final
// message or the next sender differs.
func Group(msgs []model.ChatMessage, viewer *int64, members map[int64]model.MemberProfile, now time.Time) []Entry {
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		fromViewer := viewer != nil && *viewer == m.SenderID
		name := members[m.SenderID].Name
		if fromViewer {
			name = "You"
		}
		entries[i] = Entry{
			ChatMessage:     m,
			SenderName:      name,
			SenderColor:     members[m.SenderID].ProfileColor,
			FromViewer:      fromViewer,
			FirstInSequence: i == 0 || msgs[i-1].SenderID != m.SenderID,
			LastInSequence:  i == len(msgs)-1 || msgs[i+1].SenderID != m.SenderID,
			SentAgo:         humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
		}
	}
	return entries
}
