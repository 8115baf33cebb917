package chain

import (
	"testing"

	"p2pescrow/internal/escrow"
)

func TestStatusOrdinals(t *testing.T) {
	cases := []struct {
		variant escrow.Variant
		raw     uint8
		want    escrow.Status
	}{
		{escrow.VariantExpanded, 2, escrow.StatusFunded},
		{escrow.VariantExpanded, 5, escrow.StatusRefunded},
		{escrow.VariantSimple, 1, escrow.StatusAccepted},
		{escrow.VariantSimple, 2, escrow.StatusCompleted},
		{escrow.VariantSimple, 3, escrow.StatusRefunded},
	}
	for _, tc := range cases {
		got, err := StatusFromContract(tc.variant, tc.raw)
		if err != nil {
			t.Fatalf("%s/%d: %v", tc.variant, tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s/%d: got %s want %s", tc.variant, tc.raw, got, tc.want)
		}
		raw, err := StatusToContract(tc.variant, got)
		if err != nil || raw != tc.raw {
			t.Fatalf("%s/%s: encoded %d (%v), want %d", tc.variant, got, raw, err, tc.raw)
		}
	}
}

func TestStatusOrdinalsOutOfRange(t *testing.T) {
	if _, err := StatusFromContract(escrow.VariantSimple, 4); err == nil {
		t.Fatal("expected error for simple ordinal 4")
	}
	if _, err := StatusFromContract(escrow.VariantExpanded, 6); err == nil {
		t.Fatal("expected error for expanded ordinal 6")
	}
	if _, err := StatusToContract(escrow.VariantSimple, escrow.StatusFunded); err == nil {
		t.Fatal("Funded has no simple ordinal")
	}
}
