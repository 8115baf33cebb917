package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"p2pescrow/internal/escrow"
)

func TestReconcileReportsDifferences(t *testing.T) {
	ctx := context.Background()
	e := escrow.NewEngine()
	for i := 0; i < 2; i++ {
		_, err := e.Create(ctx, buyer, escrow.CreateParams{Seller: seller, Amount: big.NewInt(50), Item: "bike"})
		require.NoError(t, err)
	}
	_, err := e.Accept(ctx, seller, 1)
	require.NoError(t, err)

	remote := NewFakeClient()
	first, err := e.Get(1)
	require.NoError(t, err)
	remote.Set(first)

	second, err := e.Get(2)
	require.NoError(t, err)
	second.Amount = big.NewInt(60)
	remote.Set(second)

	third := second.Clone()
	third.ID = 3
	remote.Set(third)

	mismatches, err := Reconcile(ctx, e, remote)
	require.NoError(t, err)
	require.Equal(t, []Mismatch{
		{Field: "counter", Local: "2", Remote: "3"},
		{EscrowID: 2, Field: "amount", Local: "50", Remote: "60"},
		{EscrowID: 3, Field: "presence", Local: "missing", Remote: "Created"},
	}, mismatches)
}

func TestReconcileInSync(t *testing.T) {
	ctx := context.Background()
	e := escrow.NewEngine()
	id, err := e.Create(ctx, buyer, escrow.CreateParams{Seller: seller, Amount: big.NewInt(5)})
	require.NoError(t, err)

	remote := NewFakeClient()
	rec, err := e.Get(id)
	require.NoError(t, err)
	remote.Set(rec)

	mismatches, err := Reconcile(ctx, e, remote)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}
