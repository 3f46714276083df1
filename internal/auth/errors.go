package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowInProgress is returned when a login is started while another
	// flow already occupies the pending slot.
	ErrFlowInProgress = errors.New("another authentication flow is already in progress")

	// ErrFlowNotFound is returned when completing a flow ID that is not the
	// current pending flow.
	ErrFlowNotFound = errors.New("authentication flow not found")

	// ErrFlowTimeout is returned when no callback arrives before the
	// completion deadline.
	ErrFlowTimeout = errors.New("timed out waiting for authentication callback")

	// ErrInvalidCallback is returned when the callback state does not match
	// the flow state.
	ErrInvalidCallback = errors.New("authentication callback state mismatch")

	// ErrUnauthorized marks a vendor 401, the signal for the
	// refresh-and-retry-once path.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated is returned when no stored credential exists for
	// the requested agent.
	ErrNotAuthenticated = errors.New("not authenticated")
)

type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.msg)
}

func statusError(code int, body []byte) error {
	if code == 401 {
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(body))
	}
	return statusErr{code: code, msg: string(body)}
}
