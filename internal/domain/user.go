package domain

import "time"

// User is the slice of the externally owned user record the engine needs to
// address channel sends. User CRUD lives in another service; this module only
// reads.
type User struct {
	ID        string
	Email     string
	Phone     string
	PushToken string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
