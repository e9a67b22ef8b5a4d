package oauth

import (
	"net/netip"

	"github.com/provly/consumer-gateway/internal/model"
)

// ipAllowed reports whether addr matches a consumer's IP allow-list.
// An empty or absent list means no restriction. Entries may be plain
// addresses or CIDR prefixes; unparseable entries and an unparseable
// caller address both fail closed.
func ipAllowed(r model.Restrictions, addr string) bool {
	if len(r.IPAddresses) == 0 {
		return true
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, entry := range r.IPAddresses {
		if pfx, err := netip.ParsePrefix(entry); err == nil {
			if pfx.Contains(ip) {
				return true
			}
			continue
		}
		if single, err := netip.ParseAddr(entry); err == nil && single.Unmap() == ip {
			return true
		}
	}
	return false
}
