package verifier

import "strings"

// bundle is a parsed cert~...~assertion string.
type bundle struct {
	certs     []string
	assertion string
}

func parseBundle(s string) (*bundle, error) {
	if s == "" {
		return nil, fail(KindMalformedInput, "empty assertion")
	}
	parts := strings.Split(s, "~")
	for _, p := range parts {
		if strings.Count(p, ".") != 2 {
			return nil, fail(KindMalformedInput, "bundle element is not a compact JWS")
		}
	}
	return &bundle{certs: parts[:len(parts)-1], assertion: parts[len(parts)-1]}, nil
}
