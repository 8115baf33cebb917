package chain

import (
	"fmt"

	"p2pescrow/internal/escrow"
)

// The simple contract revision has no Funded or Delivered members, so its
// terminal ordinals sit two places lower.
var simpleOrdinals = []escrow.Status{
	escrow.StatusCreated,
	escrow.StatusAccepted,
	escrow.StatusCompleted,
	escrow.StatusRefunded,
}

// StatusFromContract maps the contract's uint8 enum value to a Status.
func StatusFromContract(v escrow.Variant, raw uint8) (escrow.Status, error) {
	if v == escrow.VariantSimple {
		if int(raw) >= len(simpleOrdinals) {
			return 0, fmt.Errorf("chain: unknown simple status ordinal %d", raw)
		}
		return simpleOrdinals[raw], nil
	}
	s := escrow.Status(raw)
	if !s.Valid() {
		return 0, fmt.Errorf("chain: unknown status ordinal %d", raw)
	}
	return s, nil
}

// StatusToContract is the inverse of StatusFromContract.
func StatusToContract(v escrow.Variant, s escrow.Status) (uint8, error) {
	if v == escrow.VariantSimple {
		for i, candidate := range simpleOrdinals {
			if candidate == s {
				return uint8(i), nil
			}
		}
		return 0, fmt.Errorf("chain: status %s does not exist in the simple contract", s)
	}
	if !s.Valid() {
		return 0, fmt.Errorf("chain: invalid status %d", uint8(s))
	}
	return uint8(s), nil
}
