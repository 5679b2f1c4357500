package model

import "time"

type ChatMessage struct {
	ID        int64     `json:"id"`
	ChoreID   int64     `json:"chore_id"`
	SenderID  int64     `json:"sender_id"`
	Body      string    `json:"body"`
	ImageURLs []string  `json:"image_urls"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredImage is an uploaded object to attach to a row.
type StoredImage struct {
	ObjectKey string
	URL       string
}
