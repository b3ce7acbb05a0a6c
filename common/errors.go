package common

import (
	"fmt"
)

// ErrSessionNotFound is returned when a call references a dashboard
// that has no active session.
type ErrSessionNotFound struct {
	DashboardID string
}

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("session not found for dashboard: %s", e.DashboardID)
}

// ErrInvalidOperation is returned when an operation is structurally invalid.
type ErrInvalidOperation struct {
	Message string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Message)
}

// ErrParticipantNotFound is returned when a presence call references a
// user that never joined the dashboard's session.
type ErrParticipantNotFound struct {
	DashboardID string
	UserID      string
}

func (e ErrParticipantNotFound) Error() string {
	return fmt.Sprintf("participant %s not found in session for dashboard: %s", e.UserID, e.DashboardID)
}

// ErrPathNotFound is returned when a path cannot be resolved inside a
// dashboard document.
type ErrPathNotFound struct {
	Path   []string
	Reason string
}

func (e ErrPathNotFound) Error() string {
	return fmt.Sprintf("path not found %v: %s", e.Path, e.Reason)
}

// IsSessionNotFound reports whether err is an ErrSessionNotFound.
func IsSessionNotFound(err error) bool {
	_, ok := err.(ErrSessionNotFound)
	return ok
}
