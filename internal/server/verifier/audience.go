package verifier

import (
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// NormalizeAudience reduces an origin to scheme://host:port, filling in the
// default port for http and https.
func NormalizeAudience(audience string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(audience))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fail(KindMalformedInput, "audience %q is not an origin", audience)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	if port == "" {
		return "", fail(KindMalformedInput, "audience %q needs an explicit port", audience)
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}
