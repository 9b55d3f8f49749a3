package lifecycle

// Result is returned by every stage hook instead of raising an exception,
// per spec §9's redesign note ("exception-driven control flow" →
// explicit results). The FSM driver maps each variant to the transition
// spec §4.2 names for that stage.
type Result struct {
	kind resultKind
	err  error
}

type resultKind int

const (
	kindOK resultKind = iota
	kindRecoverable
	kindFatal
)

// OK reports stage success.
func OK() Result { return Result{kind: kindOK} }

// Recoverable reports a transient failure: the engine counts it and
// transitions toward RECOVER (or retries CONNECT) rather than exiting.
func Recoverable(err error) Result { return Result{kind: kindRecoverable, err: err} }

// Fatal reports an unrecoverable failure. In PREPARE/CONFIGURE this ends
// the process; in RECOVER it drives the engine to DISCONNECT.
func Fatal(err error) Result { return Result{kind: kindFatal, err: err} }

func (r Result) IsOK() bool          { return r.kind == kindOK }
func (r Result) IsRecoverable() bool { return r.kind == kindRecoverable }
func (r Result) IsFatal() bool       { return r.kind == kindFatal }
func (r Result) Err() error          { return r.err }
