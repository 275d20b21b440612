package hypervisor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResourceKind discriminates the console target type.
type ResourceKind string

const (
	KindVM        ResourceKind = "qemu"
	KindContainer ResourceKind = "lxc"
)

// ValidKind reports whether kind is one of the supported console targets.
func ValidKind(kind ResourceKind) bool {
	return kind == KindVM || kind == KindContainer
}

// Resource identifies one console target on one cluster node.
type Resource struct {
	Node string
	Kind ResourceKind
	VMID int
}

func (r Resource) String() string {
	return fmt.Sprintf("%s/%s/%d", r.Node, r.Kind, r.VMID)
}

// ticketLifetime is how long the control plane honors a minted console ticket.
// The upstream also invalidates a ticket on first successful handshake.
const ticketLifetime = 30 * time.Second

// ConsoleTicket is a short-lived, single-use credential for one console
// connection. It must never be reused across upstream connection attempts.
type ConsoleTicket struct {
	Value     string
	Port      int
	Resource  Resource
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the ticket has passed its lifetime at the given instant.
func (t *ConsoleTicket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TicketIssuedAt extracts the issuance timestamp embedded in a console ticket
// ("PVEVNC:<hex unix time>:...:<signature>"). The second return value is false
// for tickets whose format does not carry a timestamp; those are left for the
// upstream handshake to reject.
func TicketIssuedAt(value string) (time.Time, bool) {
	const prefix = "PVEVNC:"
	if !strings.HasPrefix(value, prefix) {
		return time.Time{}, false
	}
	rest := value[len(prefix):]
	idx := strings.IndexByte(rest, ':')
	if idx <= 0 {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(rest[:idx], 16, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// TicketExpiry returns the expiry deadline derivable from the ticket value
// itself. ok is false when the value carries no usable timestamp.
func TicketExpiry(value string) (time.Time, bool) {
	issued, ok := TicketIssuedAt(value)
	if !ok {
		return time.Time{}, false
	}
	return issued.Add(ticketLifetime), true
}
