package engine

import "errors"

// Sentinel errors for every way a registration request can fail. Callers
// distinguish them with errors.Is so the HTTP layer can report the exact
// reason.
var (
	ErrSlotNotFound      = errors.New("group slot not found or inactive")
	ErrAlreadyPresent    = errors.New("user is already registered, queued or marked for this group")
	ErrGroupFull         = errors.New("group is full")
	ErrSlotQueueFull     = errors.New("group queue is full")
	ErrUserQueueLimit    = errors.New("user has reached the queue limit")
	ErrTooManySelections = errors.New("maximum number of group selections reached")
	ErrTooFewRemaining   = errors.New("removal would drop the user below the minimum number of selections")
	ErrQueueingDisabled  = errors.New("queueing is disabled")
	ErrWindowClosed      = errors.New("registration is not open")
	ErrUnregDisabled     = errors.New("unregistration is not allowed")
	ErrAmbiguousSource   = errors.New("user holds more than one registration; cannot determine which to move")
	ErrNotRegistered     = errors.New("user has no registration or queue entry for this group")
	ErrAllSlotsExhausted = errors.New("no group can accommodate the user")
)
