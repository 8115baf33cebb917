package escrow

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of an escrow record. The numeric values match
// the enum ordinals of the expanded P2PEscrow contract.
type Status uint8

const (
	StatusCreated Status = iota
	StatusAccepted
	StatusFunded
	StatusDelivered
	StatusCompleted
	StatusRefunded
)

var statusNames = [...]string{
	StatusCreated:   "Created",
	StatusAccepted:  "Accepted",
	StatusFunded:    "Funded",
	StatusDelivered: "Delivered",
	StatusCompleted: "Completed",
	StatusRefunded:  "Refunded",
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusNames[s]
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusRefunded
}

// Terminal reports whether no further transition may apply.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// ParseStatus resolves a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.TrimSpace(name)
	for i, candidate := range statusNames {
		if strings.EqualFold(candidate, trimmed) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Action names an externally callable operation.
type Action uint8

const (
	ActionCreate Action = iota
	ActionAccept
	ActionFund
	ActionMarkDelivered
	ActionRelease
	ActionRefund
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "createEscrow"
	case ActionAccept:
		return "acceptEscrow"
	case ActionFund:
		return "fundEscrow"
	case ActionMarkDelivered:
		return "markAsDelivered"
	case ActionRelease:
		return "releaseFunds"
	case ActionRefund:
		return "refund"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Variant selects which contract revision the engine enforces.
type Variant uint8

const (
	// VariantExpanded separates funding from creation and requires delivery
	// confirmation before release.
	VariantExpanded Variant = iota
	// VariantSimple takes the deposit at creation and releases straight from
	// Accepted.
	VariantSimple
)

func (v Variant) String() string {
	switch v {
	case VariantExpanded:
		return "expanded"
	case VariantSimple:
		return "simple"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

// ParseVariant resolves a configured variant name. Empty input selects the
// expanded variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "expanded":
		return VariantExpanded, nil
	case "simple":
		return VariantSimple, nil
	default:
		return 0, fmt.Errorf("escrow: unknown variant %q", name)
	}
}

// HoldsFunds reports whether records in status s have their amount in custody.
func (v Variant) HoldsFunds(s Status) bool {
	if v == VariantSimple {
		return s == StatusCreated || s == StatusAccepted
	}
	return s == StatusFunded || s == StatusDelivered
}

// Record is one trade between a buyer and a seller.
type Record struct {
	ID          uint64         `json:"id"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	Amount      *big.Int       `json:"amount"`
	Item        string         `json:"item"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Clone returns a deep copy of the record so callers can mutate the copy
// without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneAmount(r.Amount)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
