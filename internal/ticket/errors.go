package ticket

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input synchronously; it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is a state-machine violation. The caller decides
// whether to retry later; the core never does.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// NotFoundError signals an absent ticket or order mirror.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError signals that a write lost against the current state of the
// location: a conditional update raced a concurrent writer, or a recall found
// no shortcode free. Retryable once the board changes.
type ConflictError struct {
	ID     TicketID
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ticket %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("ticket %s already updated", e.ID)
}

// TransientIntegrationError wraps a remote POS fetch failure. The reconciler
// isolates these per order; the next scheduled run retries while the order
// stays inside the watermark window.
type TransientIntegrationError struct {
	Op  string
	Err error
}

func (e *TransientIntegrationError) Error() string {
	return fmt.Sprintf("pos integration: %s: %v", e.Op, e.Err)
}

func (e *TransientIntegrationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
