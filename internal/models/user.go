package models

import "time"

// User is the identity record behind both auth tracks. The password is
// stored only as its argon2id encoding; plaintext never leaves the
// register/login request scope.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Summary is the externally visible slice of a User.
type Summary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (u User) Summary() Summary {
	return Summary{ID: u.ID, Username: u.Username}
}
