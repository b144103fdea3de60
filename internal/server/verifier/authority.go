package verifier

import (
	"context"
	"errors"
	"strings"
)

// Authority decides which issuer may certify addresses of a domain: a
// proxy mapping entry if one exists, else the domain itself when it runs a
// primary identity provider, else this service (the fallback issuer).
type Authority struct {
	hostname string
	proxies  map[string]string
	keys     KeyResolver
}

func NewAuthority(hostname string, proxies map[string]string, keys KeyResolver) *Authority {
	p := make(map[string]string, len(proxies))
	for domain, issuer := range proxies {
		p[strings.ToLower(domain)] = strings.ToLower(issuer)
	}
	return &Authority{hostname: strings.ToLower(hostname), proxies: p, keys: keys}
}

// Issuer returns the authoritative issuer for domain. forceIssuer, when set,
// wins outright.
func (a *Authority) Issuer(ctx context.Context, domain, forceIssuer string) (string, error) {
	if forceIssuer != "" {
		return strings.ToLower(forceIssuer), nil
	}
	domain = strings.ToLower(domain)
	if issuer, ok := a.proxies[domain]; ok {
		return issuer, nil
	}
	primary, err := a.HasPrimary(ctx, domain)
	if err != nil {
		return "", err
	}
	if primary {
		return domain, nil
	}
	return a.hostname, nil
}

// HasPrimary reports whether domain publishes its own key.
func (a *Authority) HasPrimary(ctx context.Context, domain string) (bool, error) {
	if _, ok := a.proxies[strings.ToLower(domain)]; ok {
		return true, nil
	}
	_, err := a.keys.IssuerKey(ctx, strings.ToLower(domain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoKey):
		return false, nil
	default:
		return false, fail(KindUnavailable, "key lookup for %s: %v", domain, err)
	}
}

// IsFallback reports whether issuer is this service.
func (a *Authority) IsFallback(issuer string) bool {
	return strings.EqualFold(issuer, a.hostname)
}

// Hostname is the fallback issuer name.
func (a *Authority) Hostname() string { return a.hostname }
