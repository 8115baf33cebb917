package chain

import (
	"context"
	"errors"
	"fmt"

	"p2pescrow/internal/escrow"
)

// LocalView is the part of the engine Reconcile compares against.
type LocalView interface {
	Counter() uint64
	Get(id uint64) (*escrow.Record, error)
}

// Mismatch is one field where the engine and the contract disagree.
type Mismatch struct {
	EscrowID uint64 `json:"escrowId"`
	Field    string `json:"field"`
	Local    string `json:"local"`
	Remote   string `json:"remote"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("escrow %d %s: local=%s remote=%s", m.EscrowID, m.Field, m.Local, m.Remote)
}

// Reconcile walks every id known to either side and reports the differences.
// Item, description and timestamps are not compared.
func Reconcile(ctx context.Context, local LocalView, remote Reader) ([]Mismatch, error) {
	remoteCounter, err := remote.EscrowCounter(ctx)
	if err != nil {
		return nil, err
	}
	localCounter := local.Counter()

	var out []Mismatch
	if localCounter != remoteCounter {
		out = append(out, Mismatch{
			Field:  "counter",
			Local:  fmt.Sprint(localCounter),
			Remote: fmt.Sprint(remoteCounter),
		})
	}

	last := max(localCounter, remoteCounter)
	for id := uint64(1); id <= last; id++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		l, lerr := local.Get(id)
		r, rerr := remote.GetEscrow(ctx, id)
		switch {
		case lerr != nil && !errors.Is(lerr, escrow.ErrNotFound):
			return out, lerr
		case rerr != nil && !errors.Is(rerr, escrow.ErrNotFound):
			return out, rerr
		case lerr != nil && rerr != nil:
			continue
		case lerr != nil:
			out = append(out, Mismatch{EscrowID: id, Field: "presence", Local: "missing", Remote: r.Status.String()})
			continue
		case rerr != nil:
			out = append(out, Mismatch{EscrowID: id, Field: "presence", Local: l.Status.String(), Remote: "missing"})
			continue
		}
		out = append(out, compare(l, r)...)
	}
	return out, nil
}

func compare(l, r *escrow.Record) []Mismatch {
	var out []Mismatch
	add := func(field, local, remote string) {
		if local != remote {
			out = append(out, Mismatch{EscrowID: l.ID, Field: field, Local: local, Remote: remote})
		}
	}
	add("buyer", l.Buyer.Hex(), r.Buyer.Hex())
	add("seller", l.Seller.Hex(), r.Seller.Hex())
	add("amount", amountString(l), amountString(r))
	add("status", l.Status.String(), r.Status.String())
	return out
}

func amountString(rec *escrow.Record) string {
	if rec.Amount == nil {
		return "0"
	}
	return rec.Amount.String()
}
