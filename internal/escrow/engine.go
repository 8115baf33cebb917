package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"p2pescrow/internal/logger"
)

// Engine is the transition authority and the single entry point for every
// mutation. Calls on the same escrow are serialized; calls on different
// escrows only share the commit step, which orders events globally.
type Engine struct {
	variant  Variant
	store    *Store
	ledger   *Ledger
	events   *EventLog
	locks    keyedMutex
	commitMu sync.Mutex
	nowFn    func() time.Time
	onPayout func(Payout)
	log      logrus.FieldLogger
}

// Option customises an Engine.
type Option func(*Engine)

// WithVariant selects the contract revision to enforce.
func WithVariant(v Variant) Option {
	return func(e *Engine) { e.variant = v }
}

// WithJournal sets the persistence layer the store writes through.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.store = NewStore(j) }
}

// WithClock overrides the time source. Primarily intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithPayoutHook registers fn to be called after a payout has committed.
func WithPayoutHook(fn func(Payout)) Option {
	return func(e *Engine) { e.onPayout = fn }
}

// WithLogger overrides the logger used for commit diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine returns an engine with an empty store, ledger and event log.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		variant: VariantExpanded,
		store:   NewStore(nil),
		ledger:  NewLedger(),
		events:  NewEventLog(),
		nowFn:   func() time.Time { return time.Now().UTC() },
		log:     logger.Log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Variant() Variant   { return e.variant }
func (e *Engine) Ledger() *Ledger    { return e.ledger }
func (e *Engine) Events() *EventLog  { return e.events }
func (e *Engine) Records() []*Record { return e.store.List() }

// CreateParams are the inputs of createEscrow. Deposit is the value sent with
// the call; it must be empty in the expanded variant and equal Amount in the
// simple variant.
type CreateParams struct {
	Seller      common.Address
	Amount      *big.Int
	Item        string
	Description string
	Deposit     *big.Int
}

// Create opens a new escrow with caller as buyer. Failed calls never consume
// an id.
func (e *Engine) Create(ctx context.Context, caller common.Address, p CreateParams) (uint64, error) {
	if caller == (common.Address{}) || p.Seller == (common.Address{}) {
		return 0, fmt.Errorf("%w: buyer and seller must be non-zero", ErrInvalidParty)
	}
	if p.Seller == caller {
		return 0, fmt.Errorf("%w: %s", ErrSelfTrade, caller.Hex())
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	rec := &Record{
		Buyer:       caller,
		Seller:      p.Seller,
		Amount:      new(big.Int).Set(p.Amount),
		Item:        strings.TrimSpace(p.Item),
		Description: strings.TrimSpace(p.Description),
	}
	if err := Authorize(rec, caller, ActionCreate); err != nil {
		return 0, err
	}
	tr := initial(e.variant)
	rec.Status = tr.to

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	rec.ID = e.store.Counter() + 1
	if tr.move == moveDeposit {
		if err := e.ledger.CheckDeposit(rec.ID, rec.Amount, p.Deposit); err != nil {
			return 0, err
		}
	} else if p.Deposit != nil && p.Deposit.Sign() != 0 {
		return 0, fmt.Errorf("%w: createEscrow takes no deposit in the %s variant", ErrInvalidAmount, e.variant)
	}

	// Contract timestamps are whole seconds.
	rec.CreatedAt = e.nowFn().Truncate(time.Second)
	ev := newEvent(ActionCreate, rec)
	ev.Seq = e.events.nextSeq()
	ev.At = rec.CreatedAt
	if err := e.store.persist(ctx, Commit{Record: rec, Event: ev, Counter: rec.ID}); err != nil {
		return 0, fmt.Errorf("escrow: persist create: %w", err)
	}

	if tr.move == moveDeposit {
		if err := e.ledger.Deposit(rec.ID, rec.Amount, p.Deposit); err != nil {
			return 0, e.diverged(rec.ID, err)
		}
	}
	if id := e.store.Allocate(); id != rec.ID {
		return 0, e.diverged(rec.ID, fmt.Errorf("allocator returned %d", id))
	}
	if err := e.store.Put(rec); err != nil {
		return 0, e.diverged(rec.ID, err)
	}
	if err := e.events.append(ev); err != nil {
		return 0, e.diverged(rec.ID, err)
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id": rec.ID,
		"buyer":     rec.Buyer.Hex(),
		"seller":    rec.Seller.Hex(),
		"amount":    rec.Amount.String(),
	}).Debug("escrow created")
	return rec.ID, nil
}

// Accept is called by the seller on a Created escrow.
func (e *Engine) Accept(ctx context.Context, caller common.Address, id uint64) (*Record, error) {
	return e.transition(ctx, caller, id, ActionAccept, nil)
}

// Fund deposits amount, which must equal the declared amount, on an Accepted
// escrow.
func (e *Engine) Fund(ctx context.Context, caller common.Address, id uint64, amount *big.Int) (*Record, error) {
	return e.transition(ctx, caller, id, ActionFund, amount)
}

// MarkDelivered is called by the seller on a Funded escrow.
func (e *Engine) MarkDelivered(ctx context.Context, caller common.Address, id uint64) (*Record, error) {
	return e.transition(ctx, caller, id, ActionMarkDelivered, nil)
}

// Release pays the custodied amount to the seller.
func (e *Engine) Release(ctx context.Context, caller common.Address, id uint64) (*Record, error) {
	return e.transition(ctx, caller, id, ActionRelease, nil)
}

// Refund cancels the escrow on the buyer's behalf, returning custodied funds
// to the buyer when there are any.
func (e *Engine) Refund(ctx context.Context, caller common.Address, id uint64) (*Record, error) {
	return e.transition(ctx, caller, id, ActionRefund, nil)
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id uint64) (*Record, error) {
	return e.store.Get(id)
}

// Counter returns the current allocator value.
func (e *Engine) Counter() uint64 {
	return e.store.Counter()
}

// transition runs role check, precondition check, ledger movement, record
// write and event append, in that order, under the escrow's lock. Nothing is
// mutated unless every check passed and the journal accepted the commit.
func (e *Engine) transition(ctx context.Context, caller common.Address, id uint64, action Action, deposit *big.Int) (*Record, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(rec, caller, action); err != nil {
		return nil, fmt.Errorf("escrow %d: %w", id, err)
	}
	tr, err := next(e.variant, rec.Status, action)
	if err != nil {
		return nil, fmt.Errorf("escrow %d: %w", id, err)
	}

	var recipient common.Address
	switch tr.move {
	case moveDeposit:
		err = e.ledger.CheckDeposit(id, rec.Amount, deposit)
	case movePayoutSeller:
		recipient = rec.Seller
		err = e.ledger.CheckPayout(id, rec.Amount)
	case movePayoutBuyer:
		recipient = rec.Buyer
		err = e.ledger.CheckPayout(id, rec.Amount)
	}
	if err != nil {
		return nil, err
	}

	updated := rec.Clone()
	updated.Status = tr.to
	ev := newEvent(action, updated)

	payout, paid, err := e.commit(ctx, updated, ev, tr.move, deposit, recipient)
	if err != nil {
		return nil, err
	}
	if paid && e.onPayout != nil {
		e.onPayout(payout)
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id": id,
		"action":    action.String(),
		"caller":    caller.Hex(),
		"status":    updated.Status.String(),
	}).Debug("escrow transition committed")
	return updated, nil
}

func (e *Engine) commit(ctx context.Context, rec *Record, ev Event, move movement, deposit *big.Int, recipient common.Address) (Payout, bool, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	ev.Seq = e.events.nextSeq()
	ev.At = e.nowFn()
	if err := e.store.persist(ctx, Commit{Record: rec, Event: ev, Counter: e.store.Counter()}); err != nil {
		return Payout{}, false, fmt.Errorf("escrow: persist %s: %w", ev.Kind, err)
	}

	var (
		payout Payout
		paid   bool
	)
	switch move {
	case moveDeposit:
		if err := e.ledger.Deposit(rec.ID, rec.Amount, deposit); err != nil {
			return Payout{}, false, e.diverged(rec.ID, err)
		}
	case movePayoutSeller, movePayoutBuyer:
		p, err := e.ledger.Payout(rec.ID, rec.Amount, recipient)
		if err != nil {
			return Payout{}, false, e.diverged(rec.ID, err)
		}
		payout, paid = p, true
	}
	if err := e.store.Put(rec); err != nil {
		return Payout{}, false, e.diverged(rec.ID, err)
	}
	if err := e.events.append(ev); err != nil {
		return Payout{}, false, e.diverged(rec.ID, err)
	}
	return payout, paid, nil
}

// diverged reports a failure after the journal accepted a commit. The checks
// performed under the same locks make this unreachable; it is logged loudly
// because memory and journal no longer agree.
func (e *Engine) diverged(id uint64, err error) error {
	e.log.WithFields(logrus.Fields{"escrow_id": id, "error": err}).Error("escrow state diverged from journal")
	return fmt.Errorf("escrow: state diverged for escrow %d: %w", id, err)
}

// Restore rebuilds records, custody and events from the journal. It must run
// before the engine serves calls.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.store.load(ctx)
	if err != nil {
		return fmt.Errorf("escrow: load journal: %w", err)
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.store.Counter() != 0 || e.events.Len() != 0 {
		return fmt.Errorf("escrow: restore into non-empty engine")
	}
	ledger := NewLedger()
	for _, rec := range snap.Records {
		if err := e.replayCustody(ledger, rec); err != nil {
			return err
		}
	}
	if err := e.store.restore(snap.Records, snap.Counter); err != nil {
		return err
	}
	if err := e.events.restore(snap.Events); err != nil {
		return err
	}
	e.ledger = ledger

	e.log.WithFields(logrus.Fields{
		"escrows": len(snap.Records),
		"events":  len(snap.Events),
		"counter": snap.Counter,
		"custody": ledger.Total().String(),
	}).Info("escrow engine restored from journal")
	return nil
}

func (e *Engine) replayCustody(l *Ledger, rec *Record) error {
	hadFunds := e.variant.HoldsFunds(rec.Status) ||
		rec.Status == StatusCompleted ||
		(rec.Status == StatusRefunded && e.variant == VariantSimple)
	if !hadFunds {
		return nil
	}
	if err := l.Deposit(rec.ID, rec.Amount, rec.Amount); err != nil {
		return fmt.Errorf("escrow: replay custody of %d: %w", rec.ID, err)
	}
	recipient := common.Address{}
	switch rec.Status {
	case StatusCompleted:
		recipient = rec.Seller
	case StatusRefunded:
		recipient = rec.Buyer
	default:
		return nil
	}
	if _, err := l.Payout(rec.ID, rec.Amount, recipient); err != nil {
		return fmt.Errorf("escrow: replay payout of %d: %w", rec.ID, err)
	}
	return nil
}

// CheckCustody verifies that the ledger holds exactly the sum of amounts of
// records in a funds-held status.
func (e *Engine) CheckCustody() error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	want := big.NewInt(0)
	for _, rec := range e.store.List() {
		if e.variant.HoldsFunds(rec.Status) {
			want.Add(want, rec.Amount)
		}
	}
	if got := e.ledger.Total(); got.Cmp(want) != 0 {
		return fmt.Errorf("escrow: custody %s does not match held records %s", got, want)
	}
	return nil
}

// keyedMutex hands out one mutex per escrow id and forgets it once no caller
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id uint64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uint64]*keyedLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
