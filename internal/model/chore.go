package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Chore struct {
	ID           int64           `json:"id"`
	HouseholdID  int64           `json:"household_id"`
	RequestorID  int64           `json:"requestor_id"`
	AcceptorID   *int64          `json:"acceptor_id"`
	FinishedAt   *time.Time      `json:"finished_at"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	RewardAmount decimal.Decimal `json:"reward_amount"`
	ImageURLs    []string        `json:"image_urls"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ChoreImage struct {
	ID        int64     `json:"id"`
	ChoreID   int64     `json:"chore_id"`
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
