package escrow

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a domain event. The values match the contract event names.
type EventKind string

const (
	EventCreated   EventKind = "EscrowCreated"
	EventAccepted  EventKind = "EscrowAccepted"
	EventFunded    EventKind = "EscrowFunded"
	EventDelivered EventKind = "EscrowDelivered"
	EventCompleted EventKind = "EscrowCompleted"
	EventRefunded  EventKind = "EscrowRefunded"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventAccepted, EventFunded, EventDelivered, EventCompleted, EventRefunded:
		return true
	default:
		return false
	}
}

// Event is emitted exactly once per committed transition. Only the fields
// carried by the contract event of the same kind are set: Created has buyer,
// seller and amount; Funded has buyer and amount; Accepted and Delivered have
// seller; Completed and Refunded have buyer.
type Event struct {
	Seq      uint64
	Kind     EventKind
	EscrowID uint64
	Buyer    common.Address
	Seller   common.Address
	Amount   *big.Int
	At       time.Time
}

func eventKind(action Action) EventKind {
	switch action {
	case ActionCreate:
		return EventCreated
	case ActionAccept:
		return EventAccepted
	case ActionFund:
		return EventFunded
	case ActionMarkDelivered:
		return EventDelivered
	case ActionRelease:
		return EventCompleted
	case ActionRefund:
		return EventRefunded
	default:
		return ""
	}
}

// newEvent builds the event for action from the record state after the
// transition.
func newEvent(action Action, rec *Record) Event {
	ev := Event{Kind: eventKind(action), EscrowID: rec.ID}
	switch ev.Kind {
	case EventCreated:
		ev.Buyer, ev.Seller, ev.Amount = rec.Buyer, rec.Seller, cloneAmount(rec.Amount)
	case EventFunded:
		ev.Buyer, ev.Amount = rec.Buyer, cloneAmount(rec.Amount)
	case EventAccepted, EventDelivered:
		ev.Seller = rec.Seller
	case EventCompleted, EventRefunded:
		ev.Buyer = rec.Buyer
	}
	return ev
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	if e.Amount != nil {
		e.Amount = new(big.Int).Set(e.Amount)
	}
	return e
}

type eventJSON struct {
	Seq      uint64          `json:"seq"`
	Kind     EventKind       `json:"kind"`
	EscrowID uint64          `json:"escrowId"`
	Buyer    *common.Address `json:"buyer,omitempty"`
	Seller   *common.Address `json:"seller,omitempty"`
	Amount   string          `json:"amount,omitempty"`
	At       time.Time       `json:"at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{Seq: e.Seq, Kind: e.Kind, EscrowID: e.EscrowID, At: e.At}
	if e.Buyer != (common.Address{}) {
		buyer := e.Buyer
		out.Buyer = &buyer
	}
	if e.Seller != (common.Address{}) {
		seller := e.Seller
		out.Seller = &seller
	}
	if e.Amount != nil {
		out.Amount = e.Amount.String()
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("escrow: unknown event kind %q", in.Kind)
	}
	out := Event{Seq: in.Seq, Kind: in.Kind, EscrowID: in.EscrowID, At: in.At}
	if in.Buyer != nil {
		out.Buyer = *in.Buyer
	}
	if in.Seller != nil {
		out.Seller = *in.Seller
	}
	if in.Amount != "" {
		amount, ok := new(big.Int).SetString(in.Amount, 10)
		if !ok {
			return fmt.Errorf("escrow: invalid event amount %q", in.Amount)
		}
		out.Amount = amount
	}
	*e = out
	return nil
}

// EventLog is the append-only ordered sequence of committed events. Sequence
// numbers start at 1 and have no gaps.
type EventLog struct {
	mu      sync.RWMutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{subs: make(map[int]chan Event)}
}

// Len returns the number of events appended so far, which is also the last
// sequence number.
func (l *EventLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Last returns the most recent event, the zero Event when the log is empty.
func (l *EventLog) Last() Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return Event{}
	}
	return l.events[len(l.events)-1].Clone()
}

func (l *EventLog) nextSeq() uint64 {
	return l.Len() + 1
}

// append stores ev and fans it out to subscribers. A subscriber whose buffer
// is full is dropped; its channel is closed so it can resync with Since.
func (l *EventLog) append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if want := uint64(len(l.events)) + 1; ev.Seq != want {
		return fmt.Errorf("escrow: event sequence %d out of order, want %d", ev.Seq, want)
	}
	l.events = append(l.events, ev.Clone())
	for id, ch := range l.subs {
		select {
		case ch <- ev.Clone():
		default:
			close(ch)
			delete(l.subs, id)
		}
	}
	return nil
}

// Since returns events with a sequence number greater than seq, at most limit
// of them when limit is positive.
func (l *EventLog) Since(seq uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.events)) {
		return nil
	}
	tail := l.events[seq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]Event, len(tail))
	for i, ev := range tail {
		out[i] = ev.Clone()
	}
	return out
}

// ForEscrow returns every event of one escrow in order.
func (l *EventLog) ForEscrow(id uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.events {
		if ev.EscrowID == id {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// Subscribe registers a live subscriber. Events appended after the call are
// delivered in order until cancel is called or the subscriber falls behind by
// more than buffer events.
func (l *EventLog) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subs[id]; ok {
				close(sub)
				delete(l.subs, id)
			}
		})
	}
	return ch, cancel
}

func (l *EventLog) restore(events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) != 0 {
		return fmt.Errorf("escrow: restore into non-empty event log")
	}
	for i, ev := range events {
		if ev.Seq != uint64(i)+1 {
			return fmt.Errorf("escrow: journal event %d has sequence %d", i+1, ev.Seq)
		}
		l.events = append(l.events, ev.Clone())
	}
	return nil
}
