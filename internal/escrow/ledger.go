package escrow

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Payout is a completed movement of custodied funds to one party.
type Payout struct {
	EscrowID  uint64
	Recipient common.Address
	Amount    *big.Int
}

// Ledger tracks funds held on behalf of in-flight escrows and the balances
// credited to parties by payouts. A payout may happen at most once per escrow.
type Ledger struct {
	mu       sync.Mutex
	held     map[uint64]*big.Int
	paid     map[uint64]Payout
	balances map[common.Address]*big.Int
	total    *big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		held:     make(map[uint64]*big.Int),
		paid:     make(map[uint64]Payout),
		balances: make(map[common.Address]*big.Int),
		total:    big.NewInt(0),
	}
}

// CheckDeposit validates a deposit without applying it.
func (l *Ledger) CheckDeposit(id uint64, declared, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkDepositLocked(id, declared, amount)
}

func (l *Ledger) checkDepositLocked(id uint64, declared, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit for escrow %d must be positive", ErrInvalidAmount, id)
	}
	if declared == nil || amount.Cmp(declared) != 0 {
		return fmt.Errorf("%w: deposit %s for escrow %d does not match amount %s", ErrInvalidAmount, amount, id, cloneAmount(declared))
	}
	if _, ok := l.paid[id]; ok {
		return fmt.Errorf("%w: escrow %d already paid out", ErrAlreadySettled, id)
	}
	if _, ok := l.held[id]; ok {
		return fmt.Errorf("%w: escrow %d already funded", ErrInvalidState, id)
	}
	return nil
}

// Deposit takes amount into custody for escrow id. Partial deposits are
// rejected, never accumulated.
func (l *Ledger) Deposit(id uint64, declared, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkDepositLocked(id, declared, amount); err != nil {
		return err
	}
	l.held[id] = new(big.Int).Set(amount)
	l.total.Add(l.total, amount)
	return nil
}

// CheckPayout validates a payout without applying it.
func (l *Ledger) CheckPayout(id uint64, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkPayoutLocked(id, amount)
}

func (l *Ledger) checkPayoutLocked(id uint64, amount *big.Int) error {
	if _, ok := l.paid[id]; ok {
		return fmt.Errorf("%w: escrow %d already paid out", ErrAlreadySettled, id)
	}
	held, ok := l.held[id]
	if !ok {
		return fmt.Errorf("%w: no funds in custody for escrow %d", ErrInvalidState, id)
	}
	if amount == nil || held.Cmp(amount) != 0 {
		return fmt.Errorf("%w: payout %s for escrow %d does not match custody %s", ErrInvalidAmount, cloneAmount(amount), id, held)
	}
	return nil
}

// Payout releases the custody of escrow id to recipient.
func (l *Ledger) Payout(id uint64, amount *big.Int, recipient common.Address) (Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkPayoutLocked(id, amount); err != nil {
		return Payout{}, err
	}
	held := l.held[id]
	delete(l.held, id)
	l.total.Sub(l.total, held)

	balance, ok := l.balances[recipient]
	if !ok {
		balance = big.NewInt(0)
		l.balances[recipient] = balance
	}
	balance.Add(balance, held)

	p := Payout{EscrowID: id, Recipient: recipient, Amount: new(big.Int).Set(held)}
	l.paid[id] = p
	return clonePayout(p), nil
}

// Total returns the funds currently in custody across all escrows.
func (l *Ledger) Total() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.total)
}

// Held returns the custody of a single escrow, zero when none.
func (l *Ledger) Held(id uint64) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneAmount(l.held[id])
}

// Balance returns the sum of payouts credited to addr.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneAmount(l.balances[addr])
}

// PaidOut returns the payout recorded for escrow id.
func (l *Ledger) PaidOut(id uint64) (Payout, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.paid[id]
	if !ok {
		return Payout{}, false
	}
	return clonePayout(p), true
}

func clonePayout(p Payout) Payout {
	p.Amount = cloneAmount(p.Amount)
	return p
}
