package model

import "strings"

type ShareRole string

const (
	ShareViewer ShareRole = "viewer"
	ShareEditor ShareRole = "editor"
)

func ParseShareRole(s string) (ShareRole, bool) {
	switch ShareRole(strings.ToLower(strings.TrimSpace(s))) {
	case ShareViewer:
		return ShareViewer, true
	case ShareEditor:
		return ShareEditor, true
	}
	return "", false
}

// Share grants a non-owner user a role on a task. (TaskID, UserID) is unique.
type Share struct {
	TaskID TaskID    `json:"taskId"`
	UserID UserID    `json:"userId"`
	Role   ShareRole `json:"role"`
}

// SharedUser is a share joined with the user it points at.
type SharedUser struct {
	UserID      UserID    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        ShareRole `json:"role"`
}
