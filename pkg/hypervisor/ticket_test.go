package hypervisor

import (
	"fmt"
	"testing"
	"time"
)

func TestTicketIssuedAt(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	value := fmt.Sprintf("PVEVNC:%X::c2lnbmF0dXJl", issued.Unix())

	tests := []struct {
		name       string
		value      string
		wantOK     bool
		wantIssued time.Time
	}{
		{name: "well-formed ticket", value: value, wantOK: true, wantIssued: issued},
		{name: "empty value", value: "", wantOK: false},
		{name: "wrong prefix", value: "PVEAUTH:65AB12C0::sig", wantOK: false},
		{name: "missing timestamp", value: "PVEVNC:::sig", wantOK: false},
		{name: "non-hex timestamp", value: "PVEVNC:zzzz::sig", wantOK: false},
		{name: "opaque token", value: "abc123", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := TicketIssuedAt(tc.value)
			if ok != tc.wantOK {
				t.Fatalf("TicketIssuedAt(%q) ok = %v, want %v", tc.value, ok, tc.wantOK)
			}
			if ok && !got.Equal(tc.wantIssued) {
				t.Fatalf("TicketIssuedAt(%q) = %v, want %v", tc.value, got, tc.wantIssued)
			}
		})
	}
}

func TestTicketExpiry(t *testing.T) {
	issued := time.Now().Add(-2 * ticketLifetime)
	value := fmt.Sprintf("PVEVNC:%X::sig", issued.Unix())

	expiry, ok := TicketExpiry(value)
	if !ok {
		t.Fatal("Expected expiry to be derivable")
	}
	if !time.Now().After(expiry) {
		t.Fatalf("Expected ticket issued at %v to be expired by now", issued)
	}

	fresh := fmt.Sprintf("PVEVNC:%X::sig", time.Now().Unix())
	expiry, ok = TicketExpiry(fresh)
	if !ok || time.Now().After(expiry) {
		t.Fatal("Expected a freshly issued ticket to still be valid")
	}
}

func TestConsoleTicketExpired(t *testing.T) {
	now := time.Now()
	ticket := &ConsoleTicket{ExpiresAt: now.Add(ticketLifetime)}

	if ticket.Expired(now) {
		t.Fatal("Ticket should not be expired before its deadline")
	}
	if !ticket.Expired(now.Add(ticketLifetime + time.Second)) {
		t.Fatal("Ticket should be expired past its deadline")
	}
}

func TestValidKind(t *testing.T) {
	if !ValidKind(KindVM) || !ValidKind(KindContainer) {
		t.Fatal("qemu and lxc must be accepted")
	}
	if ValidKind("openvz") || ValidKind("") {
		t.Fatal("unknown kinds must be rejected")
	}
}
