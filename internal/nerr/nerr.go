// Package nerr defines the error taxonomy used across nsrun's components so
// callers can branch on failure class without string-matching messages.
package nerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the runtime's components report them.
type Kind int

const (
	// NotFound marks an image lookup miss.
	NotFound Kind = iota
	// ManifestParse marks a malformed image manifest.
	ManifestParse
	// FabricFailure marks a netlink, iptables, or namespace syscall failure.
	FabricFailure
	// MountFailure marks an overlay or proc/sys mount failure.
	MountFailure
	// ExecFailure marks an execve failure in the child.
	ExecFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case ManifestParse:
		return "ManifestParse"
	case FabricFailure:
		return "FabricFailure"
	case MountFailure:
		return "MountFailure"
	case ExecFailure:
		return "ExecFailure"
	default:
		return "Unknown"
	}
}

// kindError wraps an underlying cause with a Kind and a captured stack trace
// (via github.com/pkg/errors), so diagnostics printed by the launcher's child
// path can include both in one %+v.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() error { return e.cause }

// Format supports fmt's %+v verb by delegating to the wrapped stack-tracing
// cause, falling back to the plain message otherwise.
func (e *kindError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s: %+v", e.kind, e.cause)
		return
	}
	fmt.Fprint(s, e.Error())
}

// Wrap annotates err with a Kind and a stack trace, unless err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// New creates a new Kind-tagged error with a stack trace.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// As reports whether the first Kind-tagged error in err's chain (err itself
// or an error it wraps) carries the given Kind. Kinds attached further down
// the chain are not consulted.
func As(err error, kind Kind) bool {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ke != nil && ke.kind == kind
}

// KindOf returns the Kind attached to err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ke == nil {
		return 0, false
	}
	return ke.kind, true
}
