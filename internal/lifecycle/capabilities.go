package lifecycle

import (
	"context"

	"github.com/nodiinc/nodi-edge/internal/bus"
)

// Capabilities is the customisation surface of a Lifecycle Engine: one
// function per stage, composed at construction time instead of through a
// subclass hierarchy (spec §9, "subclass-based override points"). A nil
// field behaves as an immediate OK (Disconnect/Manage as a no-op).
type Capabilities struct {
	// Prepare performs one-time resource creation. Any non-OK result is
	// fatal.
	Prepare func(ctx context.Context) Result

	// Configure parses/loads declarative configuration. Any non-OK
	// result is fatal.
	Configure func(ctx context.Context) Result

	// Connect opens on top of an already-opened bus session. Ok moves
	// to EXECUTE; anything else moves to RECOVER.
	Connect func(ctx context.Context, session bus.Bus) Result

	// Execute runs one EXECUTE tick. Ok continues the inner loop;
	// anything else moves to RECOVER.
	Execute func(ctx context.Context) Result

	// Recover attempts a quick reconnect/resync. Ok moves back to
	// EXECUTE; anything else moves to DISCONNECT.
	Recover func(ctx context.Context) Result

	// Disconnect runs teardown. A panic inside it is logged and ignored;
	// DISCONNECT always proceeds to CONNECT.
	Disconnect func(ctx context.Context)

	// Manage runs on the independent manage-plane timer, isolated from
	// the FSM. A returned error is logged and counted but never affects
	// state.
	Manage func(ctx context.Context) error
}

func (c Capabilities) prepare(ctx context.Context) Result {
	if c.Prepare == nil {
		return OK()
	}
	return c.Prepare(ctx)
}

func (c Capabilities) configure(ctx context.Context) Result {
	if c.Configure == nil {
		return OK()
	}
	return c.Configure(ctx)
}

func (c Capabilities) connect(ctx context.Context, session bus.Bus) Result {
	if c.Connect == nil {
		return OK()
	}
	return c.Connect(ctx, session)
}

func (c Capabilities) execute(ctx context.Context) Result {
	if c.Execute == nil {
		return OK()
	}
	return c.Execute(ctx)
}

func (c Capabilities) recover(ctx context.Context) Result {
	if c.Recover == nil {
		return OK()
	}
	return c.Recover(ctx)
}

func (c Capabilities) disconnect(ctx context.Context) {
	if c.Disconnect == nil {
		return
	}
	c.Disconnect(ctx)
}

func (c Capabilities) manage(ctx context.Context) error {
	if c.Manage == nil {
		return nil
	}
	return c.Manage(ctx)
}
