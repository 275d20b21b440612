package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucpcloud/consoled/pkg/config"
	"github.com/ucpcloud/consoled/pkg/hypervisor"
	"github.com/ucpcloud/consoled/pkg/relay"
)

type fakeGate struct {
	deny  bool
	err   error
	calls atomic.Int32
}

func (g *fakeGate) Authorize(ctx context.Context, identity Identity, res hypervisor.Resource) error {
	g.calls.Add(1)
	if g.err != nil {
		return g.err
	}
	if g.deny || identity.Token == "" {
		return ErrUnauthorized
	}
	return nil
}

type fakeMinter struct {
	err   error
	calls atomic.Int32
}

func (m *fakeMinter) Mint(ctx context.Context, res hypervisor.Resource) (*hypervisor.ConsoleTicket, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	now := time.Now()
	return &hypervisor.ConsoleTicket{
		Value:     fmt.Sprintf("PVEVNC:%X::c2ln", now.Unix()),
		Port:      5900,
		Resource:  res,
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * time.Second),
	}, nil
}

type upstreamDialer struct {
	url   string
	calls atomic.Int32
}

func (d *upstreamDialer) DialConsole(ctx context.Context, res hypervisor.Resource, port int, ticket string) (*websocket.Conn, error) {
	d.calls.Add(1)
	if d.url == "" {
		return nil, hypervisor.ErrUpstreamUnreachable
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	return conn, err
}

type staticReady bool

func (s staticReady) Ready() bool { return bool(s) }

type fixture struct {
	gate     *fakeGate
	minter   *fakeMinter
	dialer   *upstreamDialer
	registry *relay.Registry
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config.InitSettings(config.Settings{ID: "relay-1", Key: "service-key"})

	f := &fixture{
		gate:     &fakeGate{},
		minter:   &fakeMinter{},
		dialer:   &upstreamDialer{},
		registry: relay.NewRegistry(),
	}
	consoleRelay := relay.New(f.registry, f.dialer, 0)
	handlers := NewHandlers(f.gate, f.minter, consoleRelay, staticReady(true))
	f.srv = httptest.NewServer(NewRouter(handlers))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/health", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "consoled", body["service"])
	assert.Equal(t, true, body["upstream_ready"])
}

func TestMintTicketSuccess(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/shell/ticket/n1/101?kind=qemu", "operator-token")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["ticket"])
	assert.Equal(t, float64(5900), body["port"])
	assert.Equal(t, "n1", body["node"])
	assert.Equal(t, float64(101), body["vmid"])
	assert.Equal(t, int32(1), f.gate.calls.Load())
	assert.Equal(t, int32(1), f.minter.calls.Load())
}

func TestMintTicketDeniedBeforeMint(t *testing.T) {
	f := newFixture(t)
	f.gate.deny = true

	resp, _ := f.get(t, "/api/shell/ticket/n1/101", "operator-token")

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), f.minter.calls.Load(), "a denied caller must never cause a mint")
}

func TestMintTicketRejectsBadKind(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/api/shell/ticket/n1/101?kind=openvz", "operator-token")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(0), f.minter.calls.Load())
}

func TestMintTicketErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "not found", err: hypervisor.ErrResourceNotFound, wantStatus: http.StatusNotFound},
		{name: "not running", err: hypervisor.ErrResourceNotRunning, wantStatus: http.StatusConflict},
		{name: "unreachable", err: hypervisor.ErrUpstreamUnreachable, wantStatus: http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.minter.err = tc.err

			resp, _ := f.get(t, "/api/shell/ticket/n1/101", "operator-token")
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}

func dialWS(t *testing.T, f *fixture, path string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	return closeErr.Code
}

func TestConsoleWSRejectsMissingTicket(t *testing.T) {
	f := newFixture(t)
	conn, err := dialWS(t, f, "/api/shell/ws/n1/101?port=5900&token=operator-token")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, relay.CloseBadRequest, readCloseCode(t, conn))
	assert.Equal(t, int32(0), f.dialer.calls.Load())
}

func TestConsoleWSRejectsUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.gate.deny = true

	conn, err := dialWS(t, f, "/api/shell/ws/n1/101?ticket=tkt&port=5900&token=operator-token")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, relay.CloseUnauthorized, readCloseCode(t, conn))
	assert.Equal(t, int32(0), f.dialer.calls.Load(), "a denied caller must never reach the upstream")
}

func TestConsoleWSGateFailureClosesInternal(t *testing.T) {
	f := newFixture(t)
	f.gate.err = errors.New("panel unreachable")

	conn, err := dialWS(t, f, "/api/shell/ws/n1/101?ticket=tkt&port=5900&token=operator-token")
	require.NoError(t, err)
	defer conn.Close()

	// An admission infrastructure failure is not a denial; the client must be
	// able to tell the two apart.
	assert.Equal(t, websocket.CloseInternalServerErr, readCloseCode(t, conn))
	assert.Equal(t, int32(0), f.dialer.calls.Load())
}

func TestConsoleWSEndToEnd(t *testing.T) {
	received := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("file.txt\n"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	f := newFixture(t)
	f.dialer.url = "ws" + strings.TrimPrefix(upstream.URL, "http")

	ticket := fmt.Sprintf("PVEVNC:%X::c2ln", time.Now().Unix())
	conn, err := dialWS(t, f, "/api/shell/ws/n1/101?ticket="+ticket+"&port=5900&token=operator-token")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))

	select {
	case data := <-received:
		assert.Equal(t, []byte("ls\n"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received client bytes")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("file.txt\n"), data)

	assert.Equal(t, int32(1), f.gate.calls.Load())
	assert.Equal(t, int32(1), f.dialer.calls.Load())
}

func TestSessionAdminRequiresServiceAuth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/shell/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func serviceRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", `id="relay-1", key="service-key"`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSessionAdminListAndDelete(t *testing.T) {
	f := newFixture(t)

	resp := serviceRequest(t, http.MethodGet, f.srv.URL+"/api/shell/sessions")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sessions []relay.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Sessions)

	del := serviceRequest(t, http.MethodDelete, f.srv.URL+"/api/shell/sessions/unknown-id")
	defer del.Body.Close()
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}
