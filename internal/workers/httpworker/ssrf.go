package httpworker

import (
	"net"

	"github.com/rakunlabs/ferroflux/internal/security"
)

// AllowInternalIPsEnv is the environment variable that, when set to
// "true", bypasses the SSRF blocklist entirely. Grounded on
// original_source/.../security/network.rs's validate_url, which this
// worker's dispatch phase calls before every outbound request. Kept as
// an alias of internal/security's constant so existing callers and
// tests in this package don't need to change import paths.
const AllowInternalIPsEnv = security.AllowInternalIPsEnv

// validateURL delegates to internal/security, the shared SSRF guard also
// used by the connectors package's SSH/FTP workers.
func validateURL(rawURL string) error {
	return security.ValidateURL(rawURL)
}

// isBlockedIP delegates to internal/security.
func isBlockedIP(ip net.IP) bool {
	return security.IsBlockedIP(ip)
}
