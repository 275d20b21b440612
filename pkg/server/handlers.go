package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"

	"github.com/ucpcloud/consoled/pkg/hypervisor"
	"github.com/ucpcloud/consoled/pkg/metrics"
	"github.com/ucpcloud/consoled/pkg/relay"
	"github.com/ucpcloud/consoled/pkg/version"
)

// TicketMinter mints console tickets against the control plane.
// Implemented by hypervisor.Client; faked in tests.
type TicketMinter interface {
	Mint(ctx context.Context, res hypervisor.Resource) (*hypervisor.ConsoleTicket, error)
}

// ReadyChecker reports control-plane reachability for the health endpoint.
type ReadyChecker interface {
	Ready() bool
}

type Handlers struct {
	gate     Gate
	minter   TicketMinter
	relay    *relay.Relay
	ready    ReadyChecker
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandlers(gate Gate, minter TicketMinter, consoleRelay *relay.Relay, ready ReadyChecker) *Handlers {
	return &Handlers{
		gate:     gate,
		minter:   minter,
		relay:    consoleRelay,
		ready:    ready,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The browser terminal is served from the panel's origin, not ours.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// consoleTarget is the validated admission parameter set shared by the ticket
// and relay endpoints.
type consoleTarget struct {
	Node string `validate:"required,hostname_rfc1123"`
	Kind string `validate:"required,oneof=qemu lxc"`
	VMID int    `validate:"required,min=1"`
}

// relayParams adds the connection parameters the relay endpoint requires.
type relayParams struct {
	consoleTarget
	Ticket string `validate:"required"`
	Port   int    `validate:"required,min=1,max=65535"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        "consoled",
		"version":        version.Version,
		"upstream_ready": h.ready.Ready(),
	})
}

// MintTicket handles GET /api/shell/ticket/{node}/{vmid}. Admission runs
// before the mint so a denied caller never causes a ticket to be issued.
func (h *Handlers) MintTicket(w http.ResponseWriter, r *http.Request) {
	target, err := h.parseTarget(r)
	if err != nil {
		metrics.TicketMintTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := hypervisor.Resource{Node: target.Node, Kind: hypervisor.ResourceKind(target.Kind), VMID: target.VMID}

	if err := h.gate.Authorize(r.Context(), callerIdentity(r), res); err != nil {
		metrics.TicketMintTotal.WithLabelValues("unauthorized").Inc()
		if errors.Is(err, ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "not authorized for this console")
		} else {
			log.Error().Err(err).Msgf("Admission check failed for %s.", res)
			writeError(w, http.StatusBadGateway, "admission check failed")
		}
		return
	}

	ticket, err := h.minter.Mint(r.Context(), res)
	if err != nil {
		status, outcome := mintDisposition(err)
		metrics.TicketMintTotal.WithLabelValues(outcome).Inc()
		log.Error().Err(err).Msgf("Ticket mint failed for %s.", res)
		writeError(w, status, err.Error())
		return
	}

	metrics.TicketMintTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket": ticket.Value,
		"port":   ticket.Port,
		"node":   res.Node,
		"vmid":   res.VMID,
	})
}

// ConsoleWS handles GET /api/shell/ws/{node}/{vmid}. The connection is
// admitted (upgraded) first so rejections surface as distinguishable
// websocket close codes rather than opaque HTTP failures.
func (h *Handlers) ConsoleWS(w http.ResponseWriter, r *http.Request) {
	clientConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}

	params, err := h.parseRelayParams(r)
	if err != nil {
		metrics.AdmissionRejectTotal.WithLabelValues("bad_request").Inc()
		closeWith(clientConn, relay.CloseBadRequest, err.Error())
		return
	}

	res := hypervisor.Resource{Node: params.Node, Kind: hypervisor.ResourceKind(params.Kind), VMID: params.VMID}

	if err := h.gate.Authorize(r.Context(), callerIdentity(r), res); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			metrics.AdmissionRejectTotal.WithLabelValues("unauthorized").Inc()
			log.Debug().Err(err).Msgf("Console admission denied for %s.", res)
			closeWith(clientConn, relay.CloseUnauthorized, "not authorized for this console")
		} else {
			metrics.AdmissionRejectTotal.WithLabelValues("admission_error").Inc()
			log.Error().Err(err).Msgf("Admission check failed for %s.", res)
			closeWith(clientConn, relay.CloseInternalError, "admission check failed")
		}
		return
	}

	h.relay.Serve(r.Context(), clientConn, relay.ConnectParams{
		Resource: res,
		Port:     params.Port,
		Ticket:   params.Ticket,
	})
}

// ListSessions handles GET /api/shell/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.relay.Registry().List(),
	})
}

// CloseSession handles DELETE /api/shell/sessions/{id}, the operator-forced
// disconnect.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.relay.Registry().ForceClose(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) parseTarget(r *http.Request) (consoleTarget, error) {
	vars := mux.Vars(r)
	vmid, _ := strconv.Atoi(vars["vmid"])

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = string(hypervisor.KindVM)
	}

	target := consoleTarget{Node: vars["node"], Kind: kind, VMID: vmid}
	if err := h.validate.Struct(target); err != nil {
		return consoleTarget{}, errors.New("malformed console target")
	}
	return target, nil
}

func (h *Handlers) parseRelayParams(r *http.Request) (relayParams, error) {
	target, err := h.parseTarget(r)
	if err != nil {
		return relayParams{}, err
	}

	query := r.URL.Query()
	port, _ := strconv.Atoi(query.Get("port"))

	params := relayParams{
		consoleTarget: target,
		Ticket:        query.Get("ticket"),
		Port:          port,
	}
	if err := h.validate.Struct(params); err != nil {
		return relayParams{}, errors.New("malformed relay parameters")
	}
	return params, nil
}

// callerIdentity extracts the operator token. Browsers cannot attach headers
// to websocket dials, so a token query parameter is accepted as well.
func callerIdentity(r *http.Request) Identity {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return Identity{Token: strings.TrimPrefix(header, "Bearer ")}
	}
	return Identity{Token: r.URL.Query().Get("token")}
}

// mintDisposition maps mint errors onto HTTP statuses and metric outcomes.
func mintDisposition(err error) (status int, outcome string) {
	switch {
	case errors.Is(err, hypervisor.ErrResourceNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, hypervisor.ErrResourceNotRunning):
		return http.StatusConflict, "not_running"
	case errors.Is(err, hypervisor.ErrUpstreamUnreachable):
		return http.StatusBadGateway, "unreachable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// closeWith rejects an admitted connection with a close code and drops it.
func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(5*time.Second))
	_ = conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
