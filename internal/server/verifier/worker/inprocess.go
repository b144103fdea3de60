package worker

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophid/internal/server/verifier"
)

// InProcessRunner runs the engine on its own goroutine and converts a panic
// into a malformed-input failure. A timed-out goroutine is abandoned and
// finishes in the background.
type InProcessRunner struct {
	v verifier.Verifier
}

func NewInProcessRunner(v verifier.Verifier) *InProcessRunner {
	return &InProcessRunner{v: v}
}

type outcomeMsg struct {
	res *verifier.Result
	err error
}

func (r *InProcessRunner) Run(ctx context.Context, req verifier.Request) (*verifier.Result, error) {
	done := make(chan outcomeMsg, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcomeMsg{err: verifier.Failure(verifier.KindMalformedInput, "verifier crashed: %v", p)}
			}
		}()
		res, err := r.v.Verify(ctx, req)
		done <- outcomeMsg{res: res, err: err}
	}()

	select {
	case m := <-done:
		return m.res, m.err
	case <-ctx.Done():
		return nil, fmt.Errorf("in-process worker: %w", ctx.Err())
	}
}
