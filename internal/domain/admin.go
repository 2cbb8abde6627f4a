package domain

import "time"

// Admin is an administrator allowed to curate the catalog.
type Admin struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password"`
	CreatedAt    time.Time `json:"created_at"`
}
