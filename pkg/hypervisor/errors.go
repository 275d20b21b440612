package hypervisor

import "errors"

// Terminal errors for a single mint or console dial. Callers recover by
// minting a fresh ticket and opening a new session, never by retrying in place.
var (
	ErrUpstreamUnreachable = errors.New("hypervisor control plane unreachable")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrResourceNotRunning  = errors.New("console unavailable while resource is not running")
	ErrTicketExpired       = errors.New("console ticket expired")
	ErrUpstreamAuthFailed  = errors.New("upstream rejected console ticket")
)
