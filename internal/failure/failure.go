package failure

// Kind classifies why a protected call failed. The supervisor only ever
// produces CircuitOpen itself; every other kind is classified by the
// dispatch layer, which knows what the underlying command actually did,
// and reported back for statistics and circuit accounting.
type Kind string

const (
	// Timeout means the caller's own deadline race won; the supervisor
	// never detects timeouts directly.
	Timeout Kind = "timeout"
	// ConnectionFailed means the external subsystem was unreachable.
	ConnectionFailed Kind = "connection_failed"
	// AuthFailed means the subsystem rejected the caller's credentials.
	AuthFailed Kind = "auth_failed"
	// CircuitOpen means the supervisor refused the call before it started.
	CircuitOpen Kind = "circuit_open"
	// CommandError means the command ran but exited unsuccessfully.
	CommandError Kind = "command_error"
	// PermissionDenied means the target is outside the caller's allow list.
	PermissionDenied Kind = "permission_denied"
	// Cancelled means the caller abandoned the call before completion.
	Cancelled Kind = "cancelled"
)

type info struct {
	retryable bool
	hint      string
}

var kinds = map[Kind]info{
	Timeout:          {true, "the command exceeded its deadline; retry once, or raise the timeout override if this target is known to be slow"},
	ConnectionFailed: {true, "the subsystem is unreachable; check connectivity and that the service endpoint is up"},
	AuthFailed:       {false, "credentials were rejected; re-authenticate before retrying"},
	CircuitOpen:      {true, "the circuit breaker is open after repeated failures; wait for the cooldown to elapse"},
	CommandError:     {false, "the command itself failed; inspect its output before retrying"},
	PermissionDenied: {false, "the target is not permitted by the access-control rules; request access instead of retrying"},
	Cancelled:        {false, "the caller cancelled the operation; no remediation needed"},
}

// Valid reports whether k is one of the known failure kinds.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Retryable reports whether a failure of this kind is worth retrying.
// Unknown kinds are treated as non-retryable.
func (k Kind) Retryable() bool { return kinds[k].retryable }

// Hint returns a short remediation hint for callers surfacing the failure.
func (k Kind) Hint() string { return kinds[k].hint }

// Kinds returns all known failure kinds in a stable order.
func Kinds() []Kind {
	return []Kind{Timeout, ConnectionFailed, AuthFailed, CircuitOpen, CommandError, PermissionDenied, Cancelled}
}
