package notify

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"p2pescrow/internal/escrow"
)

func TestRedisSinkPublishes(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	channel := "p2pescrow.test." + time.Now().Format("150405.000000")
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(client, channel)
	ev := escrow.Event{Seq: 7, Kind: escrow.EventCreated, EscrowID: 1, Buyer: buyer, Seller: seller, Amount: big.NewInt(5)}
	require.NoError(t, sink.Publish(ctx, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got escrow.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, ev.Seq, got.Seq)
	require.Equal(t, ev.Seller, got.Seller)

	last, err := sink.LastDelivered(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, last)
	client.Del(ctx, channel+":cursor")
}
