package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAuthorize(t *testing.T) {
	rec := &Record{ID: 1, Buyer: buyerA, Seller: sellerB}
	cases := []struct {
		action Action
		allow  map[Role]bool
	}{
		{ActionAccept, map[Role]bool{RoleSeller: true}},
		{ActionFund, map[Role]bool{RoleBuyer: true}},
		{ActionMarkDelivered, map[Role]bool{RoleSeller: true}},
		{ActionRelease, map[Role]bool{RoleBuyer: true}},
		{ActionRefund, map[Role]bool{RoleBuyer: true}},
	}
	callers := map[Role]common.Address{RoleBuyer: buyerA, RoleSeller: sellerB, RoleNone: strangerC}
	for _, tc := range cases {
		for role, caller := range callers {
			err := Authorize(rec, caller, tc.action)
			if tc.allow[role] && err != nil {
				t.Fatalf("%s by %s: unexpected error %v", tc.action, role, err)
			}
			if !tc.allow[role] && !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("%s by %s: expected unauthorized, got %v", tc.action, role, err)
			}
		}
	}
}

func TestRoleOf(t *testing.T) {
	rec := &Record{Buyer: buyerA, Seller: sellerB}
	if RoleOf(rec, buyerA) != RoleBuyer || RoleOf(rec, sellerB) != RoleSeller || RoleOf(rec, strangerC) != RoleNone {
		t.Fatal("unexpected role resolution")
	}
	if RoleOf(nil, buyerA) != RoleNone {
		t.Fatal("nil record has no roles")
	}
}
