package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/hypervisor"
	"github.com/ucpcloud/consoled/pkg/metrics"
)

// teardownGrace bounds how long Serve waits for the second forwarding loop
// after the first one has ended and both connections were closed.
const teardownGrace = 10 * time.Second

const (
	dirClientToUpstream = "client_to_upstream"
	dirUpstreamToClient = "upstream_to_client"
)

// UpstreamDialer opens and authenticates the upstream console connection.
// Implemented by hypervisor.Client; faked in tests.
type UpstreamDialer interface {
	DialConsole(ctx context.Context, res hypervisor.Resource, port int, ticket string) (*websocket.Conn, error)
}

// ConnectParams are the admission parameters of one relay connection, already
// structurally validated by the caller.
type ConnectParams struct {
	Resource hypervisor.Resource
	Port     int
	Ticket   string
}

// Relay drives console sessions: ticket checks, the upstream connect, the
// bidirectional bridge and teardown bookkeeping.
type Relay struct {
	registry    *Registry
	dialer      UpstreamDialer
	maxSessions int // 0 = unlimited

	// admitted counts sessions holding a capacity slot, including those still
	// in CONNECTING. The registry only holds OPEN sessions, so it cannot back
	// the ceiling check.
	admitted atomic.Int64
}

func New(registry *Registry, dialer UpstreamDialer, maxSessions int) *Relay {
	return &Relay{
		registry:    registry,
		dialer:      dialer,
		maxSessions: maxSessions,
	}
}

// Registry exposes the session table for enumeration and forced closure.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Serve owns clientConn for the whole session lifetime and always closes it
// before returning. The caller must have run admission (authorization) checks
// already; Serve enforces the session ceiling and the ticket's expiry, opens
// the upstream side and bridges bytes until either side ends.
func (r *Relay) Serve(ctx context.Context, clientConn *websocket.Conn, params ConnectParams) {
	sess := newSession(clientConn, params.Resource)

	if !r.acquireSlot() {
		metrics.AdmissionRejectTotal.WithLabelValues(string(ReasonSessionLimit)).Inc()
		log.Warn().Msgf("Session ceiling (%d) reached, rejecting console for %s.", r.maxSessions, params.Resource)
		sess.Shutdown(CloseSessionLimit, "too many concurrent console sessions", ReasonSessionLimit)
		sess.setState(StateErrored)
		return
	}
	defer r.releaseSlot()

	// Tickets carry their issuance instant; an expired one is rejected here
	// and never produces an upstream connection attempt.
	if expiry, ok := hypervisor.TicketExpiry(params.Ticket); ok && time.Now().After(expiry) {
		metrics.AdmissionRejectTotal.WithLabelValues(string(ReasonTicketExpired)).Inc()
		log.Debug().Msgf("Rejected expired console ticket for %s.", params.Resource)
		sess.Shutdown(CloseUpstreamAuth, hypervisor.ErrTicketExpired.Error(), ReasonTicketExpired)
		sess.setState(StateErrored)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess.setState(StateConnecting)
	upstream, err := r.dialer.DialConsole(ctx, params.Resource, params.Port, params.Ticket)
	if err != nil {
		code, reason := connectDisposition(err)
		metrics.AdmissionRejectTotal.WithLabelValues(string(reason)).Inc()
		log.Error().Err(err).Msgf("Upstream console connect failed for %s.", params.Resource)
		sess.Shutdown(code, err.Error(), reason)
		sess.setState(StateErrored)
		return
	}
	sess.upstream = upstream

	sess.setState(StateOpen)
	r.registry.Insert(sess)
	reportSessionEvent("session_opened", sess.Info(), "")
	log.Info().Msgf("Console session %s opened for %s.", sess.ID, params.Resource)

	reason := r.bridge(ctx, sess)

	if reason.isError() {
		sess.setState(StateErrored)
	} else {
		sess.setState(StateClosed)
	}
	r.registry.Remove(sess.ID)

	duration := time.Since(sess.CreatedAt)
	metrics.SessionCloseTotal.WithLabelValues(string(reason)).Inc()
	metrics.SessionDurationSeconds.Observe(duration.Seconds())
	reportSessionEvent("session_closed", sess.Info(), reason)
	log.Info().Msgf("Console session %s closed (%s) after %s.", sess.ID, reason, duration.Round(time.Millisecond))
}

// acquireSlot reserves capacity for one session under the configured ceiling.
// Reservation is atomic with the check, so concurrent admissions cannot all
// pass together, and it happens before the upstream dial so sessions still
// connecting count against the ceiling.
func (r *Relay) acquireSlot() bool {
	if r.maxSessions <= 0 {
		return true
	}
	for {
		held := r.admitted.Load()
		if held >= int64(r.maxSessions) {
			return false
		}
		if r.admitted.CompareAndSwap(held, held+1) {
			return true
		}
	}
}

func (r *Relay) releaseSlot() {
	if r.maxSessions > 0 {
		r.admitted.Add(-1)
	}
}

type pumpResult struct {
	direction string
	err       error
}

// bridge runs the two forwarding loops and couples their termination: the
// first loop to end triggers Shutdown, which closes both connections and
// thereby interrupts the other loop's blocked read.
func (r *Relay) bridge(ctx context.Context, sess *Session) CloseReason {
	results := make(chan pumpResult, 2)

	go pump(sess, sess.client, sess.upstream, dirClientToUpstream, results)
	go pump(sess, sess.upstream, sess.client, dirUpstreamToClient, results)

	consumed := 0
	select {
	case first := <-results:
		consumed++
		code, text, reason := closeDisposition(first)
		sess.Shutdown(code, text, reason)
	case <-ctx.Done():
		sess.Shutdown(CloseForced, "server shutting down", ReasonShutdown)
	case <-sess.Done():
		// Externally forced (operator disconnect); reason already recorded.
	}

	// The remaining loops end promptly: their pending reads fail once both
	// connections are closed.
	for ; consumed < 2; consumed++ {
		select {
		case <-results:
		case <-time.After(teardownGrace):
			log.Warn().Msgf("Forwarding loop of session %s did not end within %s.", sess.ID, teardownGrace)
			return sess.Reason()
		}
	}
	return sess.Reason()
}

// pump forwards frames from src to dst verbatim and in order. The frame type
// is passed through unchanged; text and binary payloads are never reframed.
func pump(sess *Session, src, dst *websocket.Conn, direction string, results chan<- pumpResult) {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			results <- pumpResult{direction: direction, err: err}
			return
		}

		sess.touch()
		metrics.BytesForwardedTotal.WithLabelValues(direction).Add(float64(len(data)))

		if err := dst.WriteMessage(messageType, data); err != nil {
			results <- pumpResult{direction: direction, err: err}
			return
		}
	}
}

// connectDisposition maps a failed CONNECTING phase onto a client close code.
func connectDisposition(err error) (code int, reason CloseReason) {
	if errors.Is(err, hypervisor.ErrUpstreamAuthFailed) {
		return CloseUpstreamAuth, ReasonUpstreamAuth
	}
	return CloseUpstreamUnreachable, ReasonUnreachable
}

// closeDisposition maps the first terminated forwarding loop onto the close
// code and reason delivered to the surviving side.
func closeDisposition(result pumpResult) (code int, text string, reason CloseReason) {
	clean := websocket.IsCloseError(result.err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)

	if result.direction == dirClientToUpstream {
		if clean {
			return CloseNormal, "", ReasonClientClosed
		}
		return CloseNormal, "", ReasonClientError
	}
	if clean {
		return CloseNormal, "remote console closed", ReasonUpstreamClosed
	}
	return CloseUpstreamUnreachable, "upstream console connection lost", ReasonUpstreamError
}

func (c CloseReason) isError() bool {
	switch c {
	case ReasonClientError, ReasonUpstreamError, ReasonUpstreamAuth, ReasonUnreachable, ReasonTicketExpired:
		return true
	default:
		return false
	}
}
