// Package relay correlates a human participant's outgoing actions with the
// deltas that report their results.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/metrics"
	"github.com/DoyleJ11/turncast/pkg/types"
)

var ErrClosed = errors.New("relay closed")

// Continuation receives the value returned by the server for one action.
type Continuation func(returned any)

// Sender transmits one envelope on the game connection.
type Sender interface {
	Send(ctx context.Context, env types.Envelope) error
}

type SenderFunc func(ctx context.Context, env types.Envelope) error

func (f SenderFunc) Send(ctx context.Context, env types.Envelope) error { return f(ctx, env) }

type Relay struct {
	sender Sender
	log    *zap.Logger
	newID  func() string

	mu      sync.Mutex
	pending map[string]Continuation
	closed  bool
}

func New(sender Sender, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		sender:  sender,
		log:     log.Named("relay"),
		newID:   uuid.NewString,
		pending: make(map[string]Continuation),
	}
}

// Send registers cont under a fresh request id and transmits a run request.
// If transmission fails the continuation is discarded.
func (r *Relay) Send(ctx context.Context, functionName string, args map[string]any, cont Continuation) (string, error) {
	if functionName == "" {
		return "", errors.New("relay: empty function name")
	}
	if args == nil {
		args = map[string]any{}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	id := r.newID()
	r.pending[id] = cont
	metrics.PendingActions.Inc()
	r.mu.Unlock()

	env, err := types.NewEnvelope(types.EventRun, types.RunData{FunctionName: functionName, Args: args, RequestID: id})
	if err == nil {
		err = r.sender.Send(ctx, env)
	}
	if err != nil {
		r.forget(id)
		return "", fmt.Errorf("relay: send %s: %w", functionName, err)
	}
	r.log.Debug("action sent", zap.String("function", functionName), zap.String("requestId", id))
	return id, nil
}

// Deliver hands a delta's reason to the waiting continuation, if any. It reports
// whether a continuation ran. Reasons for other players' actions match nothing.
func (r *Relay) Deliver(reason engine.Reason) bool {
	if reason == nil {
		return false
	}
	id := reason.Correlation()
	if id == "" {
		return false
	}

	cont, ok := r.forget(id)
	if !ok {
		return false
	}

	if cont != nil {
		cont(reason.ReturnedValue())
	}
	return true
}

// Close drops every pending continuation without invoking it.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.pending); n > 0 {
		r.log.Debug("dropping pending actions", zap.Int("pending", n))
	}
	r.closed = true
	metrics.PendingActions.Sub(float64(len(r.pending)))
	clear(r.pending)
}

func (r *Relay) forget(id string) (Continuation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cont, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		metrics.PendingActions.Dec()
	}
	return cont, ok
}

func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
