package treasury

import (
	"errors"
	"fmt"
)

// Kind classifies business errors so callers can distinguish retryable
// conditions from fatal ones without matching message text.
type Kind int

const (
	// KindValidation is a malformed request: zero amount, disabled rail,
	// missing destination. No state mutated.
	KindValidation Kind = iota
	// KindInsufficient means a balance, liquidity buffer, or spend cap
	// would be violated. Checked before mutation.
	KindInsufficient
	// KindExternal means a settlement or minting endpoint is unconfigured
	// or failed. Surfaced as a Failed conversion with compensation.
	KindExternal
	// KindInvariant should be unreachable via valid configuration; the
	// call aborts without partial effects.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "invalid"
	case KindInsufficient:
		return "insufficient"
	case KindExternal:
		return "external"
	default:
		return "invariant"
	}
}

// Error is a business error with its taxonomy class. The rendered message is
// prefixed with the class keyword.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func errValidation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func errInsufficient(format string, args ...any) error {
	return &Error{Kind: KindInsufficient, Msg: fmt.Sprintf(format, args...)}
}

func errExternal(format string, args ...any) error {
	return &Error{Kind: KindExternal, Msg: fmt.Sprintf(format, args...)}
}

func errInvariant(format string, args ...any) error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy class from err, or KindInvariant when the
// error did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInvariant
}

var (
	ErrUnknownOrg      = &Error{Kind: KindInvariant, Msg: "unknown organization"}
	ErrOrgExists       = &Error{Kind: KindValidation, Msg: "organization already registered"}
	ErrOrgArchived     = &Error{Kind: KindValidation, Msg: "organization is archived"}
	ErrRailDisabled    = &Error{Kind: KindValidation, Msg: "rail is disabled"}
	ErrZeroAmount      = &Error{Kind: KindValidation, Msg: "amount must be positive"}
	ErrNoDestination   = &Error{Kind: KindValidation, Msg: "destination is required"}
	ErrNotCompliant    = &Error{Kind: KindValidation, Msg: "user fails compliance checks"}
	ErrInsufficientBal = &Error{Kind: KindInsufficient, Msg: "insufficient balance"}
	ErrUnknownIntent   = &Error{Kind: KindValidation, Msg: "unknown conversion intent"}
	ErrUnknownDeposit  = &Error{Kind: KindValidation, Msg: "unknown deposit record"}
)
