package store

import "errors"

// ErrConfirmationRequired is returned by Register when the account exists but
// the user must confirm their email before a session can start. It is an
// outcome, not a failure.
var ErrConfirmationRequired = errors.New("EMAIL_CONFIRM_REQUIRED")
