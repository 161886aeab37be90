package interview

import "errors"

var (
	// ErrInvalidSession is returned when a session id does not reference a
	// live session.
	ErrInvalidSession = errors.New("interview: invalid session")

	// ErrAlreadyCompleted is returned when a mutation is attempted on a
	// session whose completed latch is already set.
	ErrAlreadyCompleted = errors.New("interview: already completed")

	// ErrEmptyResponse is returned when the candidate's text is empty after
	// trimming whitespace.
	ErrEmptyResponse = errors.New("interview: empty response")
)
