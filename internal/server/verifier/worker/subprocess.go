package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"github.com/fxamacker/cbor/v2"
)

const maxReplySize = 1 << 20

// reply is the single message a worker process writes to stdout.
type reply struct {
	Result *verifier.Result `cbor:"result,omitempty"`
	Error  *verifier.Error  `cbor:"error,omitempty"`
}

// SubprocessRunner starts a fresh worker process for every request. The
// request goes to its stdin as one CBOR message and the reply comes back on
// stdout. A process that outlives the deadline is killed.
type SubprocessRunner struct {
	Binary string
	Args   []string
	// Env, when set, replaces the inherited environment.
	Env []string
}

func (r *SubprocessRunner) Run(ctx context.Context, req verifier.Request) (*verifier.Result, error) {
	in, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Binary, r.Args...)
	cmd.Env = r.Env
	cmd.Stdin = bytes.NewReader(in)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, maxReplySize+1))
	if len(out) > maxReplySize {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, errors.New("worker reply too large")
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("worker process: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read reply: %w", readErr)
	}

	var rep reply
	if err := cbor.Unmarshal(out, &rep); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	switch {
	case rep.Error != nil:
		return nil, rep.Error
	case rep.Result != nil:
		return rep.Result, nil
	default:
		return nil, errors.New("empty worker reply")
	}
}

// ServeOne is the worker side: read one request from r, verify it, write one
// reply to w. Verification failures and panics become error replies; only
// I/O problems are returned.
func ServeOne(ctx context.Context, v verifier.Verifier, r io.Reader, w io.Writer) error {
	var req verifier.Request
	if err := cbor.NewDecoder(r).Decode(&req); err != nil {
		return writeReply(w, reply{Error: verifier.Failure(verifier.KindMalformedInput, "request: %v", err)})
	}

	res, err := NewInProcessRunner(v).Run(ctx, req)
	if err != nil {
		var verr *verifier.Error
		if !errors.As(err, &verr) {
			verr = verifier.Failure(verifier.KindUnavailable, "%v", err)
		}
		return writeReply(w, reply{Error: verr})
	}
	return writeReply(w, reply{Result: res})
}

func writeReply(w io.Writer, rep reply) error {
	b, err := cbor.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	_, err = w.Write(b)
	return err
}
