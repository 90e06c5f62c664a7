package model

import (
	"strings"

	"github.com/google/uuid"
)

type UserID string

func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// User is provisioned outside the task service and is read-only here.
type User struct {
	ID          UserID `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseUserID accepts only canonical UUID text.
func ParseUserID(s string) (UserID, bool) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return UserID(u.String()), true
}
