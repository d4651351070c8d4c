package entities

import "time"

// User is a registered customer account.
type User struct {
	UserID    string
	Email     string
	Name      string
	CreatedAt time.Time
}
