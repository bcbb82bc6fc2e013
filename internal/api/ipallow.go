package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/pbxlink/pbxlink/internal/database"
)

// allowedIP checks the request's source address against the configured
// allowlist for agent lookup endpoints. An empty allowlist admits everyone;
// a non-empty one admits only matching addresses. Unparseable allowlist
// entries are skipped.
func (s *Server) allowedIP(r *http.Request) bool {
	raw, err := s.sysConfig.Get(r.Context(), database.ConfKeyIPAllowlist)
	if err != nil {
		s.logger.Error("reading ip allowlist failed", "error", err)
		return false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}

	addr, err := parseAddr(r.RemoteAddr)
	if err != nil {
		s.logger.Warn("failed to parse source ip for allowlist match",
			"ip", r.RemoteAddr, "error", err)
		return false
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parseCIDROrIP(entry)
		if err != nil {
			s.logger.Warn("invalid ip allowlist entry skipped", "entry", entry)
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseCIDROrIP parses a string as either a CIDR prefix or a single IP address.
// Single IPs are converted to /32 (IPv4) or /128 (IPv6) prefixes.
func parseCIDROrIP(s string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(s)
	if err == nil {
		return prefix, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// parseAddr parses an IP string that may include a port (e.g. "10.0.0.1:4321")
// and returns just the address portion.
func parseAddr(ipStr string) (netip.Addr, error) {
	if host, _, err := net.SplitHostPort(ipStr); err == nil {
		return netip.ParseAddr(host)
	}
	return netip.ParseAddr(ipStr)
}
