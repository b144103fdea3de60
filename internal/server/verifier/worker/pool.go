// Package worker runs verifications in isolated, bounded workers. A worker
// handles one request and gives exactly one reply; the pool enforces the
// deadline and never retries a failed verification.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"golang.org/x/time/rate"
)

// Runner executes one verification in some isolated context.
type Runner interface {
	Run(ctx context.Context, req verifier.Request) (*verifier.Result, error)
}

// Observer receives the outcome of every pooled verification. outcome is
// "ok" or the failure kind.
type Observer interface {
	ObserveVerification(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveVerification(string, time.Duration) {}

// Pool bounds concurrent verifications to a fixed number of slots.
type Pool struct {
	runner  Runner
	slots   chan struct{}
	limiter *rate.Limiter
	timeout time.Duration
	obs     Observer
	logger  logging.Logger
}

var _ verifier.Verifier = (*Pool)(nil)

// Options configures a Pool. Zero values pick defaults: one slot, a ten
// second timeout, no admission limit.
type Options struct {
	Size    int
	Timeout time.Duration
	// PerSecond limits admissions; zero disables the limiter.
	PerSecond float64
	Observer  Observer
	Logger    logging.Logger
}

func NewPool(runner Runner, opts Options) *Pool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	p := &Pool{
		runner:  runner,
		slots:   make(chan struct{}, opts.Size),
		timeout: opts.Timeout,
		obs:     opts.Observer,
		logger:  opts.Logger.With("module", "verifier_pool"),
	}
	if opts.PerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.PerSecond), opts.Size)
	}
	return p
}

// Verify runs req on a free worker. Waiting for admission or a slot counts
// against the timeout.
func (p *Pool) Verify(ctx context.Context, req verifier.Request) (res *verifier.Result, err error) {
	start := time.Now()
	defer func() { p.obs.ObserveVerification(outcome(err), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, p.deadline(ctx, "waiting for admission")
			}
			return nil, verifier.Failure(verifier.KindUnavailable, "verifier over capacity")
		}
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, p.deadline(ctx, "waiting for a worker")
	}
	defer func() { <-p.slots }()

	res, err = p.runner.Run(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, p.deadline(ctx, "worker did not answer")
	}
	var verr *verifier.Error
	if errors.As(err, &verr) {
		return nil, verr
	}
	p.logger.Warn(ctx, "verification worker failed", "error", err)
	return nil, verifier.Failure(verifier.KindUnavailable, "worker failed: %v", err)
}

func (p *Pool) deadline(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.logger.Warn(ctx, "verification timed out", "stage", what)
		return verifier.Failure(verifier.KindTimeout, "%s", what)
	}
	return ctx.Err()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var verr *verifier.Error
	if errors.As(err, &verr) {
		return string(verr.Kind)
	}
	return "canceled"
}
