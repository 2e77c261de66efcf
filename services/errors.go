package services

import "errors"

var (
	// ErrSessionNotFound is returned when a session id does not
	// resolve to a record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTeamNotFound is returned when a team id does not resolve to
	// a record in the session.
	ErrTeamNotFound = errors.New("team not found")

	// ErrPrecondition marks a caller mistake (missing identifier,
	// invalid index, wrong state) rather than a transient fault.
	ErrPrecondition = errors.New("precondition violation")

	// ErrUnsavedSession is returned when an operation names the
	// "unsaved" sentinel id.
	ErrUnsavedSession = errors.New("session has not been saved yet")

	// ErrNavigationInFlight is returned when a navigation call
	// arrives while a previous one is still running.
	ErrNavigationInFlight = errors.New("navigation already in progress")

	// ErrInvalidPasscode is returned on a failed team passcode check.
	ErrInvalidPasscode = errors.New("invalid team passcode")
)
