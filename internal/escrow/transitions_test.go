package escrow

import (
	"errors"
	"testing"
)

func TestNextIsTotal(t *testing.T) {
	actions := []Action{ActionAccept, ActionFund, ActionMarkDelivered, ActionRelease, ActionRefund, Action(99)}
	for _, v := range []Variant{VariantExpanded, VariantSimple} {
		for s := Status(0); s <= StatusRefunded+1; s++ {
			for _, a := range actions {
				tr, err := next(v, s, a)
				if err != nil {
					if !errors.Is(err, ErrInvalidState) {
						t.Fatalf("%s %s/%s: unexpected error kind %v", v, s, a, err)
					}
					continue
				}
				if tr.to <= s {
					t.Fatalf("%s %s/%s: transition moves backward to %s", v, s, a, tr.to)
				}
			}
		}
	}
}

func TestTerminalStatesReportSettled(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusRefunded} {
		_, err := next(VariantExpanded, s, ActionRelease)
		if !errors.Is(err, ErrAlreadySettled) || !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected settled invalid-state error for %s, got %v", s, err)
		}
	}
}

func TestExpandedRefundOnlyWithoutFunds(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusAccepted} {
		tr, err := next(VariantExpanded, s, ActionRefund)
		if err != nil {
			t.Fatalf("refund from %s: %v", s, err)
		}
		if tr.move != moveNone {
			t.Fatalf("refund from %s must not move funds", s)
		}
	}
	for _, s := range []Status{StatusFunded, StatusDelivered} {
		if _, err := next(VariantExpanded, s, ActionRefund); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("refund from %s should be rejected, got %v", s, err)
		}
	}
}

func TestFundsHeldStatuses(t *testing.T) {
	if !VariantExpanded.HoldsFunds(StatusFunded) || !VariantExpanded.HoldsFunds(StatusDelivered) {
		t.Fatal("expanded variant holds funds once funded")
	}
	if VariantExpanded.HoldsFunds(StatusAccepted) {
		t.Fatal("expanded variant holds nothing before funding")
	}
	if !VariantSimple.HoldsFunds(StatusCreated) || !VariantSimple.HoldsFunds(StatusAccepted) {
		t.Fatal("simple variant holds funds from creation")
	}
}
