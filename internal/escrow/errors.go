package escrow

import "errors"

// Errors reported by the engine. Every rejection wraps exactly one of these
// (terminal-state rejections wrap both ErrInvalidState and ErrAlreadySettled)
// so callers can branch with errors.Is.
var (
	ErrSelfTrade      = errors.New("escrow: buyer and seller must differ")
	ErrInvalidParty   = errors.New("escrow: invalid party address")
	ErrInvalidAmount  = errors.New("escrow: invalid amount")
	ErrUnauthorized   = errors.New("escrow: unauthorized caller")
	ErrInvalidState   = errors.New("escrow: invalid state for action")
	ErrNotFound       = errors.New("escrow: escrow not found")
	ErrAlreadySettled = errors.New("escrow: escrow already settled")
)

// Code maps err onto the stable condition name reported to callers.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadySettled):
		return "AlreadySettled"
	case errors.Is(err, ErrSelfTrade):
		return "SelfTrade"
	case errors.Is(err, ErrInvalidParty):
		return "InvalidParty"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "Internal"
	}
}
