package relay

import (
	"encoding/json"
	"time"

	"github.com/ucpcloud/consoled/pkg/scheduler"
)

const (
	sessionEventURL      = "/api/console/sessions/events/"
	sessionEventPriority = 80
)

// sessionEvent is the lifecycle record shipped to the panel's audit collector.
type sessionEvent struct {
	Reporter  string `json:"reporter"`
	Record    string `json:"record"`
	SessionID string `json:"session_id"`
	Node      string `json:"node"`
	Kind      string `json:"kind"`
	VMID      int    `json:"vmid"`
	Reason    string `json:"reason,omitempty"`
}

// reportSessionEvent ships a session lifecycle event to the panel. Delivery is
// best-effort through the request queue; the relay never blocks on it.
func reportSessionEvent(record string, info SessionInfo, reason CloseReason) {
	if scheduler.Rqueue == nil {
		return
	}

	data, err := json.Marshal(sessionEvent{
		Reporter:  "consoled",
		Record:    record,
		SessionID: info.ID,
		Node:      info.Node,
		Kind:      info.Kind,
		VMID:      info.VMID,
		Reason:    string(reason),
	})
	if err != nil {
		return
	}

	// Stale lifecycle events are useless to the panel; expire them.
	scheduler.Rqueue.Post(sessionEventURL, data, sessionEventPriority, time.Now().Add(5*time.Minute))
}
