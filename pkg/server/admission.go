package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ucpcloud/consoled/pkg/hypervisor"
	"github.com/ucpcloud/consoled/pkg/scheduler"
	"github.com/ucpcloud/consoled/pkg/utils"
)

const authorizeURL = "/api/console/authorize/"

// ErrUnauthorized is returned when the admission gate denies a caller.
var ErrUnauthorized = errors.New("not authorized for this console")

// Identity is the caller's token as asserted by the external identity service.
// The relay never inspects it; the panel does.
type Identity struct {
	Token string
}

// Gate decides whether a caller may open a console on a resource. It runs
// before any ticket is minted or any upstream connection is attempted.
type Gate interface {
	Authorize(ctx context.Context, identity Identity, res hypervisor.Resource) error
}

// PanelGate delegates the authorization decision to the panel API. Anything
// but an affirmative answer is a denial; the relay never re-derives ownership.
type PanelGate struct {
	session *scheduler.Session
}

func NewPanelGate(session *scheduler.Session) *PanelGate {
	return &PanelGate{session: session}
}

type authorizeRequest struct {
	Token string `json:"token"`
	Node  string `json:"node"`
	Kind  string `json:"kind"`
	VMID  int    `json:"vmid"`
}

func (g *PanelGate) Authorize(ctx context.Context, identity Identity, res hypervisor.Resource) error {
	if identity.Token == "" {
		return ErrUnauthorized
	}

	payload := authorizeRequest{
		Token: identity.Token,
		Node:  res.Node,
		Kind:  string(res.Kind),
		VMID:  res.VMID,
	}

	_, statusCode, err := g.session.Request(http.MethodPost, authorizeURL, payload, 5)
	if err != nil {
		return fmt.Errorf("admission check failed: %w", err)
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if !utils.IsSuccessStatusCode(statusCode) {
		return fmt.Errorf("admission check failed: panel returned %d", statusCode)
	}
	return nil
}
