package campaign

import "errors"

// Precondition failures surfaced to API callers. Handlers map these to 4xx;
// anything else is a 500.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrEmptyName          = errors.New("campaign name is required")
	ErrEmptySubject       = errors.New("campaign subject is required")
	ErrEmptyBody          = errors.New("campaign body is required")
	ErrNoRecipients       = errors.New("campaign has no recipients")
	ErrInvalidTransition  = errors.New("campaign status does not allow this operation")
	ErrNoFailedRecipients = errors.New("campaign has no failed recipients to retry")
	ErrNotEditable        = errors.New("campaign can no longer be edited")
)
