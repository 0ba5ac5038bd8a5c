// Package security implements the outbound-network SSRF guard shared by
// every node worker that dials a user-configured host: httpworker's
// dispatch phase and the connectors package's SSH/FTP workers. Grounded
// on original_source/.../security/network.rs's validate_url/
// validate_host_port/is_blocked_ip, which the original system calls from
// exactly this same set of call sites.
package security

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
)

// AllowInternalIPsEnv is the environment variable that, when set to
// "true", bypasses the blocklist entirely — used in integration tests
// that must reach loopback/private fixtures.
const AllowInternalIPsEnv = "FERROFLUX_ALLOW_INTERNAL_IPS"

// AllowInternalIPs reports whether the bypass flag is set.
func AllowInternalIPs() bool {
	return os.Getenv(AllowInternalIPsEnv) == "true"
}

// ValidateURL parses rawURL, resolves its host to every address it maps
// to, and rejects the URL if any of those addresses is loopback,
// private, link-local, or unspecified.
func ValidateURL(rawURL string) error {
	if AllowInternalIPs() {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("ssrf: invalid url: %w", err)
	}

	return ValidateHostPort(u.Hostname(), 0)
}

// ValidateHostPort resolves host and rejects it under the same blocklist
// ValidateURL applies. port is accepted for symmetry with
// validate_host_port's signature but does not affect the decision — only
// the resolved address matters.
func ValidateHostPort(host string, port int) error {
	if AllowInternalIPs() {
		return nil
	}

	if host == "" {
		return fmt.Errorf("ssrf: missing host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return fmt.Errorf("ssrf: host %q resolves to blocked address %s", hostLabel(host, port), ip)
		}
		return nil
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("ssrf: resolve host %q: %w", host, err)
	}

	for _, ip := range addrs {
		if IsBlockedIP(ip) {
			return fmt.Errorf("ssrf: host %q resolves to blocked address %s", hostLabel(host, port), ip)
		}
	}

	return nil
}

func hostLabel(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// IsBlockedIP reports whether ip falls within a reserved range that
// should never be reachable from a workflow's outbound connection:
// loopback, unspecified, RFC1918 private ranges, link-local, broadcast,
// and their IPv6 equivalents (unique-local, link-local unicast).
func IsBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}

	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4.Equal(net.IPv4bcast):
			return true
		}
		return false
	}

	// fc00::/7 unique local addresses.
	if len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}

	return false
}
