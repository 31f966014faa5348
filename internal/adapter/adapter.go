// Package adapter implements the engine's notification adapters (module A):
// stateless, thread-safe wrappers around one delivery provider each.
//
// Grounded on services/consolidated-worker-go/notification_worker.go
// (its sendEmail method and isTransientError classifier) and on
// services/payment-worker/stripe_provider.go's PaymentProvider interface
// shape, generalized from a single concrete provider to an Adapter
// interface with an Email and a Push implementation.
package adapter

import (
	"context"
	"errors"
	"time"
)

// OutcomeKind is the closed set of results an Adapter.Send can return.
type OutcomeKind string

const (
	OutcomeSent           OutcomeKind = "sent"
	OutcomeInvalidAddress OutcomeKind = "invalid-address"
	OutcomeTransientFail  OutcomeKind = "transient-fail"
	OutcomeProviderReject OutcomeKind = "provider-reject"
)

// Outcome is the result of one Adapter.Send call.
type Outcome struct {
	Kind          OutcomeKind
	ProviderMsgID string
	Reason        string
}

// Message is a rendered, channel-agnostic payload ready for delivery.
type Message struct {
	Subject  string
	BodyText string
	BodyHTML string

	// PushType/EpisodeID/Title, with BodyText as the body, populate the
	// push JSON payload (spec section 6): {type, episode_id, title, body}.
	PushType  string // "reminder" | "alert" | "sos"
	EpisodeID string
	Title     string
}

// Adapter sends a rendered message to one address on one channel. Adapters
// are stateless and safe for concurrent use by every worker in the pool.
type Adapter interface {
	Send(ctx context.Context, address string, msg Message) (Outcome, error)
}

// ErrTimeout is returned (wrapped) when a provider call exceeds the
// configured adapter_timeout.
var ErrTimeout = errors.New("adapter: timed out")

// WithTimeout bounds ctx to d and translates a context deadline into the
// TransientFail{timeout} outcome spec section 5 requires, without the
// underlying adapter needing to know about the deadline itself.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (Outcome, error)) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(ctx)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return Outcome{Kind: OutcomeTransientFail, Reason: "timeout"}, ErrTimeout
	}
}
