package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"p2pescrow/internal/escrow"
	"p2pescrow/internal/logger"
)

const subscriberBuffer = 256

// Forwarder drains the event log into a sink. Delivery is at-most-once: an
// event whose publish fails is logged, reported to OnError and skipped, and
// never affects the engine. Consumers that need every event resync from the
// event log with Since.
type Forwarder struct {
	Events *escrow.EventLog
	Sink   Sink
	Log    logrus.FieldLogger
	// OnError is called for every failed publish.
	OnError func(ev escrow.Event, err error)
	// Resync bounds how long a dropped subscription waits before catching up.
	Resync time.Duration
}

// Run forwards events after seq from until ctx is done. When from is zero and
// the sink implements Cursor, delivery resumes after the sink's cursor.
func (f *Forwarder) Run(ctx context.Context, from uint64) error {
	if from == 0 {
		if c, ok := f.Sink.(Cursor); ok {
			last, err := c.LastDelivered(ctx)
			if err != nil {
				f.log().WithError(err).Warn("sink cursor unavailable, forwarding from start")
			} else {
				from = last
			}
		}
	}

	cursor := from
	for {
		ch, cancel := f.Events.Subscribe(subscriberBuffer)
		for _, ev := range f.Events.Since(cursor, 0) {
			cursor = f.deliver(ctx, ev)
		}
		cursor = f.drain(ctx, ch, cursor)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log().WithField("cursor", cursor).Warn("event subscription dropped, resyncing")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.resync()):
		}
	}
}

func (f *Forwarder) drain(ctx context.Context, ch <-chan escrow.Event, cursor uint64) uint64 {
	for {
		select {
		case <-ctx.Done():
			return cursor
		case ev, ok := <-ch:
			if !ok {
				return cursor
			}
			if ev.Seq <= cursor {
				continue
			}
			cursor = f.deliver(ctx, ev)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, ev escrow.Event) uint64 {
	if err := f.Sink.Publish(ctx, ev); err != nil {
		f.log().WithFields(logrus.Fields{"seq": ev.Seq, "escrow_id": ev.EscrowID}).WithError(err).Error("event sink publish failed")
		if f.OnError != nil {
			f.OnError(ev, err)
		}
	}
	return ev.Seq
}

func (f *Forwarder) resync() time.Duration {
	if f.Resync > 0 {
		return f.Resync
	}
	return 100 * time.Millisecond
}

func (f *Forwarder) log() logrus.FieldLogger {
	if f.Log != nil {
		return f.Log
	}
	return logger.Log
}
