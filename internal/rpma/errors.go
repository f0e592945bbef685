package rpma

import "fmt"

// Code classifies a failure returned from the rpma package. It mirrors the
// coarse error taxonomy every entry point reports through; the finer-grained
// provider errno and message travel alongside it in Error.
type Code int

const (
	// Unknown indicates the provider failed without setting an errno.
	Unknown Code = -100000

	// NoSupp indicates the operation is not supported by the active
	// provider or build.
	NoSupp Code = -100001

	// ProviderErr indicates a provider-level failure; Error.Errno carries
	// the underlying errno. Named with an Err suffix, unlike its sibling
	// constants, to avoid colliding with the unrelated Provider interface
	// this package also exports (the seam to the verbs/CM binding); its
	// String() still renders as "Provider" per the wire-visible error text.
	ProviderErr Code = -100002

	// NoMem indicates an allocation failure.
	NoMem Code = -100003

	// Invalid indicates an argument violated the operation's preconditions.
	Invalid Code = -100004
)

// String returns the human-readable name of the code.
func (c Code) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case NoSupp:
		return "NoSupp"
	case ProviderErr:
		return "Provider"
	case NoMem:
		return "NoMem"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Error is the single structured value every fallible rpma call returns
// instead of the thread-local errno/message pair the underlying C library
// exposes. Because it is a plain return value rather than shared state, no
// goroutine can read another goroutine's error: there is no shared slot to
// read in the first place.
type Error struct {
	// Code is the coarse classification (Unknown/NoSupp/ProviderErr/NoMem/Invalid).
	Code Code

	// Errno is the provider-reported errno, when Code == ProviderErr. Zero
	// otherwise.
	Errno int

	// Message is a short, bounded description composed at the point of
	// failure.
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Errno != 0 {
		return fmt.Sprintf("rpma: %s: %s (errno %d)", e.Code, e.Message, e.Errno)
	}
	return fmt.Sprintf("rpma: %s: %s", e.Code, e.Message)
}

func newErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func providerErr(errno int, format string, args ...any) *Error {
	return &Error{Code: ProviderErr, Errno: errno, Message: fmt.Sprintf(format, args...)}
}

func invalidErr(format string, args ...any) *Error {
	return newErr(Invalid, format, args...)
}
