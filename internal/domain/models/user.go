package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/justinchat/justinchat/internal/domain"
)

type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func NewUser(username, email, password string) *User {
	return &User{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		Password:  password,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// Participant is the identity shape that rides on signaling messages.
func (u *User) Participant() domain.Participant {
	return domain.Participant{
		ID:       u.ID.String(),
		Username: u.Username,
		Email:    u.Email,
	}
}
