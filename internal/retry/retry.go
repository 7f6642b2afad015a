// Package retry classifies engine errors as transient (retry-worthy) or
// terminal (fatal), grounded on the teacher's gRPC-status-aware
// classification but adapted to this engine's NetworkError/RpcError
// taxonomy since NEAR's JSON-RPC transport carries no gRPC status codes.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool { return d.Class == ClassTransient }

// Classify inspects err and decides whether a retry is worthwhile.
// NetworkError and net.Error timeouts/temporary failures are transient;
// RpcError (a remote rejection, not a transport failure) and anything
// else unrecognized are terminal.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "no_error"}
	}

	var netErr *engineerr.NetworkError
	if errors.As(err, &netErr) {
		return Decision{Class: ClassTransient, Reason: "network_error"}
	}

	var rpcErr *engineerr.RpcError
	if errors.As(err, &rpcErr) {
		return Decision{Class: ClassTerminal, Reason: "rpc_rejection"}
	}

	var nErr net.Error
	if errors.As(err, &nErr) {
		if nErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
		return Decision{Class: ClassTransient, Reason: "net_error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "deadline_exceeded"}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "canceled"}
	}

	return Decision{Class: ClassTerminal, Reason: "unclassified"}
}

// WithBackoff retries fn up to maxAttempts times using exponential backoff
// between attempts, bailing out immediately on a terminal classification
// or context cancellation.
func WithBackoff(ctx context.Context, maxAttempts int, initial, max time.Duration, fn func(context.Context) error) error {
	backoff := initial
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Classify(err).IsTransient() {
			return err
		}
	}
	return lastErr
}
