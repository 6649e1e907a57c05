package service

import "errors"

var (
	// ErrNotFoundOrNotShared covers both a missing list and a caller that is
	// not one of its viewers, so list existence never leaks to non-members.
	ErrNotFoundOrNotShared = errors.New("list not found or not shared with you")
	// ErrItemNotFound is returned when an item id does not resolve in a list
	// the caller may see.
	ErrItemNotFound = errors.New("item not found")
	// ErrAlreadyClaimedByOther is returned when another viewer holds the claim.
	ErrAlreadyClaimedByOther = errors.New("item already claimed by someone else")

	// ErrListNotFound is returned for owner operations on a list the caller
	// does not own.
	ErrListNotFound = errors.New("list not found")
	// ErrUserNotFound is returned when a user id or telegram id is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrShareWithSelf is returned when an owner shares a list with their own email.
	ErrShareWithSelf = errors.New("cannot share with yourself")
	// ErrAlreadyShared is returned when the email already has access or a pending invite.
	ErrAlreadyShared = errors.New("list is already shared or pending with this user")
	// ErrShareNotFound is returned when removing a viewer or invite that does not exist.
	ErrShareNotFound = errors.New("share not found")

	// errConflictRetryable marks a conditional claim write that lost a race.
	// It never leaves ToggleClaim.
	errConflictRetryable = errors.New("claim changed concurrently")
)
