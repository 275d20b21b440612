package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ucpcloud/consoled/pkg/hypervisor"
)

// State is the lifecycle state of a console session.
type State int32

const (
	StateAdmitted State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// closeGrace bounds how long teardown waits on close-frame writes.
const closeGrace = 5 * time.Second

// Session is one live console relay. Both connection handles are owned
// exclusively by the goroutine running Relay.Serve; all other parties interact
// with the session through Shutdown and the read-only snapshot.
type Session struct {
	ID        string
	Resource  hypervisor.Resource
	CreatedAt time.Time

	client   *websocket.Conn
	upstream *websocket.Conn

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nano
	reason       atomic.Value // CloseReason

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(clientConn *websocket.Conn, res hypervisor.Resource) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Resource:  res,
		CreatedAt: now,
		client:    clientConn,
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateAdmitted))
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivityAt is the last instant a byte crossed the bridge in either direction.
func (s *Session) LastActivityAt() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Reason returns why the session ended, once teardown has begun.
func (s *Session) Reason() CloseReason {
	if v := s.reason.Load(); v != nil {
		return v.(CloseReason)
	}
	return ""
}

// Done is closed once teardown has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Shutdown tears the session down: both connections are closed together and
// any blocked read in the forwarding loops is interrupted. Safe to call from
// outside the owning goroutine and idempotent; only the first caller's close
// code and reason are kept.
func (s *Session) Shutdown(code int, text string, reason CloseReason) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.reason.Store(reason)

		deadline := time.Now().Add(closeGrace)
		if s.client != nil {
			_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			_ = s.client.Close()
		}
		if s.upstream != nil {
			_ = s.upstream.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.upstream.Close()
		}
		close(s.done)
	})
}

// SessionInfo is the externally visible snapshot of a session. Connection
// handles are deliberately not exposed.
type SessionInfo struct {
	ID             string    `json:"id"`
	Node           string    `json:"node"`
	Kind           string    `json:"kind"`
	VMID           int       `json:"vmid"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:             s.ID,
		Node:           s.Resource.Node,
		Kind:           string(s.Resource.Kind),
		VMID:           s.Resource.VMID,
		State:          s.State().String(),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt(),
	}
}
