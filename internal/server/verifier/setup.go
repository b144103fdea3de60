package verifier

import (
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/config"
)

const wellKnownCacheSize = 1024

// FromConfig builds the engine the server and the worker process share:
// static issuer keys first, then well-known discovery when enabled.
func FromConfig(cfg *config.Config, logger logging.Logger, opts ...Option) (*Engine, *Authority, error) {
	static, err := LoadStaticKeys(cfg.IssuerKeyFiles())
	if err != nil {
		return nil, nil, err
	}
	keys := Chain{static}
	if cfg.WellKnownDiscovery {
		keys = append(keys, NewWellKnown(wellKnownCacheSize, cfg.WellKnownCacheTTL, logger))
	}
	authority := NewAuthority(cfg.Hostname, cfg.ProxyIDPMap(), keys)
	return NewEngine(keys, authority, opts...), authority, nil
}
