package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Household struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	JoinCode  string    `json:"join_code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type HouseholdMember struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemberProfile is a household member joined with the user's display fields.
type MemberProfile struct {
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	ProfileColor string `json:"profile_color"`
	Role         string `json:"role"`
}
