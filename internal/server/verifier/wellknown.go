package verifier

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// WellKnownPath is where a primary IdP publishes its support document.
const WellKnownPath = "/.well-known/browserid"

const maxDocumentSize = 64 << 10

type supportDocument struct {
	PublicKey string `json:"public-key"`
}

// ErrLookupInterrupted means a support document lookup ended without an
// answer from the issuer. It is never cached.
var ErrLookupInterrupted = errors.New("support document lookup interrupted")

// errNoDocument marks answers that prove the issuer publishes no usable key.
var errNoDocument = errors.New("no support document")

// cached entries remember definite misses too, so a domain without a support
// document is not asked again for every login.
type cached struct {
	key crypto.PublicKey
	err error
}

// WellKnown discovers issuer keys from support documents. Results are cached
// for ttl and concurrent lookups of one issuer share a single fetch.
type WellKnown struct {
	client  *http.Client
	scheme  string
	cache   *expirable.LRU[string, cached]
	group   singleflight.Group
	logger  logging.Logger
	fetches func()
}

// WellKnownOption customises WellKnown.
type WellKnownOption func(*WellKnown)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) WellKnownOption {
	return func(w *WellKnown) { w.client = c }
}

// WithScheme replaces https, for tests against plain HTTP servers.
func WithScheme(scheme string) WellKnownOption {
	return func(w *WellKnown) { w.scheme = scheme }
}

// WithFetchHook is called before every network fetch.
func WithFetchHook(fn func()) WellKnownOption {
	return func(w *WellKnown) { w.fetches = fn }
}

func NewWellKnown(size int, ttl time.Duration, logger logging.Logger, opts ...WellKnownOption) *WellKnown {
	if logger == nil {
		logger = logging.Nop()
	}
	w := &WellKnown{
		client:  &http.Client{Timeout: 10 * time.Second},
		scheme:  "https",
		cache:   expirable.NewLRU[string, cached](size, nil, ttl),
		logger:  logger.With("module", "wellknown"),
		fetches: func() {},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// IssuerKey returns the key published by issuer. The fetch runs detached from
// ctx so one impatient caller cannot turn a live IdP into a cached miss.
func (w *WellKnown) IssuerKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	issuer = strings.ToLower(issuer)
	if c, ok := w.cache.Get(issuer); ok {
		return c.key, c.err
	}
	ch := w.group.DoChan(issuer, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		key, err := w.fetch(fctx, issuer)
		switch {
		case err == nil:
			w.cache.Add(issuer, cached{key: key})
			return key, nil
		case errors.Is(err, errNoDocument):
			w.logger.Debug(fctx, "no support document", "issuer", issuer, "error", err)
			w.cache.Add(issuer, cached{err: ErrNoKey})
			return nil, ErrNoKey
		case transient(err):
			w.logger.Warn(fctx, "support document lookup interrupted", "issuer", issuer, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrLookupInterrupted, err)
		default:
			// unreachable host: no IdP there right now, ask again next time
			w.logger.Debug(fctx, "support document unreachable", "issuer", issuer, "error", err)
			return nil, ErrNoKey
		}
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrLookupInterrupted, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(crypto.PublicKey), nil
	}
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (w *WellKnown) fetch(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	if strings.ContainsAny(issuer, "/?#@") {
		return nil, fmt.Errorf("%w: invalid issuer %q", errNoDocument, issuer)
	}
	w.fetches()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.scheme+"://"+issuer+WellKnownPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errNoDocument, resp.StatusCode)
	}
	var doc supportDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		if transient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoDocument, err)
	}
	if doc.PublicKey == "" {
		return nil, fmt.Errorf("%w: no public-key", errNoDocument)
	}
	key, err := ParsePublicKey(doc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoDocument, err)
	}
	return key, nil
}
