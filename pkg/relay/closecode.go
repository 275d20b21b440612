package relay

import "github.com/gorilla/websocket"

// Application close codes sent to the client connection. Codes in the 4000
// range are reserved for application use by RFC 6455; the browser terminal
// uses them to tell a clean remote close apart from admission and upstream
// failures.
const (
	CloseNormal              = websocket.CloseNormalClosure
	CloseInternalError       = websocket.CloseInternalServerErr
	CloseForced              = 4001 // operator-initiated or process shutdown
	CloseBadRequest          = 4400
	CloseUnauthorized        = 4401
	CloseUpstreamAuth        = 4403 // ticket expired or rejected upstream
	CloseSessionLimit        = 4429
	CloseUpstreamUnreachable = 4502
)

// CloseReason labels why a session ended. Used for metrics and lifecycle events.
type CloseReason string

const (
	ReasonClientClosed    CloseReason = "client_closed"
	ReasonUpstreamClosed  CloseReason = "upstream_closed"
	ReasonClientError     CloseReason = "client_error"
	ReasonUpstreamError   CloseReason = "upstream_error"
	ReasonTicketExpired   CloseReason = "ticket_expired"
	ReasonUpstreamAuth    CloseReason = "upstream_auth_failed"
	ReasonUnreachable     CloseReason = "upstream_unreachable"
	ReasonSessionLimit    CloseReason = "session_limit"
	ReasonForced          CloseReason = "forced"
	ReasonShutdown        CloseReason = "shutdown"
)
