package notify

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"p2pescrow/internal/escrow"
)

var (
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type recordingSink struct {
	mu     sync.Mutex
	seqs   []uint64
	failAt uint64
	cursor uint64
}

func (s *recordingSink) Publish(_ context.Context, ev escrow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Seq == s.failAt {
		return errors.New("sink down")
	}
	s.seqs = append(s.seqs, ev.Seq)
	return nil
}

func (s *recordingSink) LastDelivered(context.Context) (uint64, error) {
	return s.cursor, nil
}

func (s *recordingSink) delivered() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestForwarderDeliversBacklogAndLiveEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := escrow.NewEngine(escrow.WithLogger(quietLogger()))
	id, err := e.Create(ctx, buyer, escrow.CreateParams{Seller: seller, Amount: big.NewInt(10)})
	require.NoError(t, err)

	sink := &recordingSink{failAt: 2}
	var failed []uint64
	var failMu sync.Mutex
	f := &Forwarder{
		Events: e.Events(),
		Sink:   sink,
		Log:    quietLogger(),
		OnError: func(ev escrow.Event, err error) {
			failMu.Lock()
			failed = append(failed, ev.Seq)
			failMu.Unlock()
		},
	}
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, 0) }()

	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = e.Accept(ctx, seller, id)
	require.NoError(t, err)
	_, err = e.Fund(ctx, buyer, id, big.NewInt(10))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.delivered()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []uint64{1, 3}, sink.delivered())
	failMu.Lock()
	require.Equal(t, []uint64{2}, failed)
	failMu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestForwarderResumesAfterCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := escrow.NewEngine(escrow.WithLogger(quietLogger()))
	for i := 0; i < 3; i++ {
		_, err := e.Create(ctx, buyer, escrow.CreateParams{Seller: seller, Amount: big.NewInt(1)})
		require.NoError(t, err)
	}

	sink := &recordingSink{cursor: 2}
	f := &Forwarder{Events: e.Events(), Sink: sink, Log: quietLogger()}
	go func() { _ = f.Run(ctx, 0) }()

	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []uint64{3}, sink.delivered())
}

func TestLogSinkWritesFields(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := LogSink{Log: log}
	require.NoError(t, sink.Publish(context.Background(), escrow.Event{Seq: 4, Kind: escrow.EventFunded, EscrowID: 2, Amount: big.NewInt(9)}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, escrow.EventFunded, entry.Data["kind"])
	require.Equal(t, "9", entry.Data["amount"])
}
