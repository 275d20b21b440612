package hypervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/config"
	"github.com/ucpcloud/consoled/pkg/utils"
)

const (
	apiPort        = 8006
	mintTimeout    = 5 * time.Second
	versionTimeout = 5 * time.Second
)

// Client talks to the hypervisor control-plane API. It mints console tickets
// and dials the console websocket endpoint those tickets are scoped to.
type Client struct {
	apiURL         string // e.g. https://pve.example:8006
	wsURL          string // e.g. wss://pve.example:8006
	authHeader     string
	httpClient     *http.Client
	connectTimeout time.Duration
}

// NewClient builds a client from global settings.
func NewClient() *Client {
	host := config.GlobalSettings.HypervisorHost
	httpClient := utils.NewHTTPClient()
	httpClient.Timeout = mintTimeout

	return &Client{
		apiURL:         fmt.Sprintf("https://%s:%d", host, apiPort),
		wsURL:          fmt.Sprintf("wss://%s:%d", host, apiPort),
		authHeader:     fmt.Sprintf("PVEAPIToken=%s=%s", config.GlobalSettings.TokenID, config.GlobalSettings.TokenSecret),
		httpClient:     httpClient,
		connectTimeout: config.GlobalSettings.ConnectTimeout,
	}
}

type mintResponse struct {
	Data struct {
		Ticket string      `json:"ticket"`
		Port   json.Number `json:"port"`
		User   string      `json:"user"`
		UPID   string      `json:"upid"`
	} `json:"data"`
}

// Mint requests a fresh console ticket for the given resource. Each call mints
// an independent ticket; failed mints are never retried with the same ticket.
func (c *Client) Mint(ctx context.Context, res Resource) (*ConsoleTicket, error) {
	if !ValidKind(res.Kind) {
		return nil, fmt.Errorf("unsupported resource kind %q", res.Kind)
	}

	endpoint := fmt.Sprintf("%s/api2/json/nodes/%s/%s/%d/vncproxy",
		c.apiURL, url.PathEscape(res.Node), res.Kind, res.VMID)
	form := url.Values{"websocket": {"1"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", utils.GetUserAgent("consoled"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	if !utils.IsSuccessStatusCode(resp.StatusCode) {
		return nil, mapMintFailure(resp.StatusCode, body)
	}

	var minted mintResponse
	if err := json.Unmarshal(body, &minted); err != nil {
		return nil, fmt.Errorf("%w: malformed mint response: %v", ErrUpstreamUnreachable, err)
	}
	if minted.Data.Ticket == "" {
		return nil, fmt.Errorf("%w: mint response carried no ticket", ErrUpstreamUnreachable)
	}

	port, err := strconv.Atoi(minted.Data.Port.String())
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: mint response carried invalid port %q", ErrUpstreamUnreachable, minted.Data.Port)
	}

	now := time.Now()
	ticket := &ConsoleTicket{
		Value:     minted.Data.Ticket,
		Port:      port,
		Resource:  res,
		IssuedAt:  now,
		ExpiresAt: now.Add(ticketLifetime),
	}
	if issued, ok := TicketIssuedAt(ticket.Value); ok {
		ticket.IssuedAt = issued
		ticket.ExpiresAt = issued.Add(ticketLifetime)
	}

	// Expired straight out of the mint means our clock and the control
	// plane's disagree by more than the ticket lifetime; such a ticket would
	// fail admission anyway.
	if ticket.Expired(now) {
		return nil, fmt.Errorf("%w at mint, check clock sync with the control plane", ErrTicketExpired)
	}

	log.Debug().Msgf("Minted console ticket for %s, port %d.", res, port)
	return ticket, nil
}

// mapMintFailure maps control-plane responses onto the mint error taxonomy.
func mapMintFailure(statusCode int, body []byte) error {
	msg := strings.ToLower(string(body))
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %d", ErrResourceNotFound, statusCode)
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %d", ErrResourceNotFound, statusCode)
	case strings.Contains(msg, "not running"), strings.Contains(msg, "stopped"), strings.Contains(msg, "suspended"):
		return fmt.Errorf("%w: %d", ErrResourceNotRunning, statusCode)
	default:
		return fmt.Errorf("%w: %d %s", ErrUpstreamUnreachable, statusCode, strings.TrimSpace(string(body)))
	}
}

// ConsoleURL builds the console websocket endpoint a minted ticket is bound to.
func (c *Client) ConsoleURL(res Resource, port int, ticket string) string {
	params := url.Values{
		"port":      {strconv.Itoa(port)},
		"vncticket": {ticket},
	}
	return fmt.Sprintf("%s/api2/json/nodes/%s/%s/%d/vncwebsocket?%s",
		c.wsURL, url.PathEscape(res.Node), res.Kind, res.VMID, params.Encode())
}

// DialConsole opens and authenticates the upstream console connection using a
// ticket. The dial and handshake are bounded by the configured connect timeout.
// Handshake rejection maps to ErrUpstreamAuthFailed; anything else that is not
// a clean success maps to ErrUpstreamUnreachable.
func (c *Client) DialConsole(ctx context.Context, res Resource, port int, ticket string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  utils.NewTLSConfig(),
		HandshakeTimeout: c.connectTimeout,
		Subprotocols:     []string{"binary"},
	}

	header := http.Header{
		"Cookie":     {"PVEAuthCookie=" + url.QueryEscape(ticket)},
		"User-Agent": {utils.GetUserAgent("consoled")},
	}

	conn, resp, err := dialer.DialContext(ctx, c.ConsoleURL(res, port, ticket), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %d", ErrUpstreamAuthFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	return conn, nil
}

// Version probes the control-plane API, used for reachability checks.
func (c *Client) Version(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/api2/json/version", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("User-Agent", utils.GetUserAgent("consoled"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !utils.IsSuccessStatusCode(resp.StatusCode) {
		return fmt.Errorf("%w: %d", ErrUpstreamUnreachable, resp.StatusCode)
	}
	return nil
}
