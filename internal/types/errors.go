package types

import "errors"

var (
	// ErrSessionNotFound names a session id with no backing record. The
	// store's GetSession reports that case as a nil session and nil error
	// rather than returning this error.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound is returned when a message id has no backing record.
	ErrMessageNotFound = errors.New("message not found")
	// ErrTurnAlreadyActive names a second turn started on a session while
	// one is already in flight; at most one turn may be active per session
	// at a time. The Turn Executor does not return it: it reports that
	// condition as an ErrValidation event on the turn's stream.
	ErrTurnAlreadyActive = errors.New("a turn is already active for this session")
	// ErrNoSuchParticipant names an operation on an unknown participant
	// id. RetrySpeaker reports an unknown id as an ErrValidation event
	// rather than returning this error.
	ErrNoSuchParticipant = errors.New("no such participant")
)
