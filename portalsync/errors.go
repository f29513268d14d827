package portalsync

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus rejects a status outside the portal's fixed vocabulary
	// before any I/O happens.
	ErrInvalidStatus = errors.New("invalid portal status")

	// ErrUnknownTenant rejects a tenant id with no configuration entry.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrNotLinked means the shadow table holds no eligible record (status
	// POSTED, non-empty external id) for the order, so there is nothing to
	// call the portal with. Callers treat this as a skip, not a failure.
	ErrNotLinked = errors.New("order is not linked to the portal")

	// ErrOrderLocked means another sync currently holds the order's lease.
	ErrOrderLocked = errors.New("order sync already in progress")
)

// PortalError is a non-2xx response from the vendor portal. Data carries the
// response body when the server sent one.
type PortalError struct {
	Status     int
	StatusText string
	Data       string
}

func (e *PortalError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("portal api error %d: %s", e.Status, e.Data)
	}
	return fmt.Sprintf("portal api error %d: %s", e.Status, e.StatusText)
}
