package quota

import (
	"net"
	"strings"
	"time"
)

// Identity keys quota accounting to a client. It is an opaque key with its
// own construction rules, never a raw string spliced into queries or paths.
type Identity string

// IdentityFromAddr normalizes a remote address into an Identity. The port is
// stripped and IPs are reduced to their canonical textual form, so the same
// client always maps to the same key.
func IdentityFromAddr(addr string) Identity {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return Identity(ip.String())
	}
	return Identity(strings.ToLower(addr))
}

// Usage reflects the cumulative upload footprint of one identity. Both
// counters only grow: quota bounds total churn within the lifetime window,
// not the instantaneous footprint.
type Usage struct {
	Identity  Identity  `json:"identity"`
	BytesUsed int64     `json:"bytes_used"`
	FileCount int64     `json:"file_count"`
	UpdatedAt time.Time `json:"updated_at"`
}
