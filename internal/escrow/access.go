package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Role is the caller's relationship to a record.
type Role uint8

const (
	RoleNone Role = iota
	RoleBuyer
	RoleSeller
)

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	default:
		return "none"
	}
}

// RoleOf resolves caller against the parties of rec.
func RoleOf(rec *Record, caller common.Address) Role {
	switch {
	case rec == nil:
		return RoleNone
	case caller == rec.Buyer:
		return RoleBuyer
	case caller == rec.Seller:
		return RoleSeller
	default:
		return RoleNone
	}
}

// RequiredRole returns the only role allowed to perform action.
func RequiredRole(action Action) Role {
	switch action {
	case ActionAccept, ActionMarkDelivered:
		return RoleSeller
	case ActionCreate, ActionFund, ActionRelease, ActionRefund:
		return RoleBuyer
	default:
		return RoleNone
	}
}

// Authorize reports whether caller may perform action on rec. It has no side
// effects and looks at nothing but the two party addresses.
func Authorize(rec *Record, caller common.Address, action Action) error {
	want := RequiredRole(action)
	got := RoleOf(rec, caller)
	if want == RoleNone || got != want {
		return fmt.Errorf("%w: %s requires the %s, caller %s is %s", ErrUnauthorized, action, want, caller.Hex(), got)
	}
	return nil
}
