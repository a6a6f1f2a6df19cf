package model

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	Role    Role   `json:"role"`
}

// BlockedDate marks a calendar day as unavailable.
type BlockedDate struct {
	Date      string    `json:"date"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Booking   *Booking  `json:"booking,omitempty"`
	User      *User     `json:"user,omitempty"`
}

// Notification is an admin-facing event record.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	Booking   *Booking  `json:"booking,omitempty"`
	User      *User     `json:"user,omitempty"`
}
