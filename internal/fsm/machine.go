// Package fsm wraps github.com/robbyt/go-fsm/v2 with the six-state lifecycle
// every engine in nodi-edge (worker or supervisor) obeys.
package fsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/robbyt/go-fsm/v2"
)

// Lifecycle states, spec-mandated and fixed. No implicit self-edges.
const (
	Prepare    = "prepare"
	Configure  = "configure"
	Connect    = "connect"
	Execute    = "execute"
	Recover    = "recover"
	Disconnect = "disconnect"
)

// Transitions is the canonical allowed-transition relation for the
// Application Lifecycle Engine. It is immutable for the life of the
// process; no code path ever mutates this map.
var Transitions = map[string][]string{
	Prepare:    {Configure},
	Configure:  {Connect},
	Connect:    {Execute, Recover},
	Execute:    {Configure, Recover},
	Recover:    {Execute, Disconnect},
	Disconnect: {Connect},
}

// ErrInvalidTransition is returned (wrapped) by Transition when the
// requested edge is not present in Transitions.
var ErrInvalidTransition = fsm.ErrInvalidStateTransition

// SubscriberOption configures a state change channel.
type SubscriberOption = fsm.SubscriberOption

// WithSyncTimeout bounds how long a synchronous state broadcast may block.
var WithSyncTimeout = fsm.WithSyncTimeout

// Machine is the interface the Lifecycle Engine drives. Exported as an
// interface so tests can substitute a fake without touching go-fsm.
type Machine interface {
	Transition(state string) error
	TransitionBool(state string) bool
	TransitionIfCurrentState(current, next string) error
	SetState(state string) error
	GetState() string
	GetStateChan(ctx context.Context) <-chan string
	GetStateChanWithOptions(ctx context.Context, opts ...SubscriberOption) <-chan string
}

// LifecycleFSM embeds fsm.Machine and overrides GetStateChan to use a
// bounded synchronous broadcast, so a slow subscriber can never wedge a
// stage transition during shutdown.
type LifecycleFSM struct {
	*fsm.Machine
}

func (m *LifecycleFSM) GetStateChan(ctx context.Context) <-chan string {
	return m.GetStateChanWithOptions(ctx, WithSyncTimeout(5*time.Second))
}

// New builds a lifecycle FSM starting in Prepare.
func New(handler slog.Handler) (Machine, error) {
	machine, err := fsm.New(handler, Prepare, Transitions)
	if err != nil {
		return nil, err
	}
	return &LifecycleFSM{Machine: machine}, nil
}
