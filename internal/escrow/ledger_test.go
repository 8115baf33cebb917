package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerDepositRequiresExactAmount(t *testing.T) {
	l := NewLedger()

	require.ErrorIs(t, l.Deposit(1, big.NewInt(100), big.NewInt(50)), ErrInvalidAmount)
	require.ErrorIs(t, l.Deposit(1, big.NewInt(100), big.NewInt(150)), ErrInvalidAmount)
	require.ErrorIs(t, l.Deposit(1, big.NewInt(100), nil), ErrInvalidAmount)
	require.Equal(t, "0", l.Total().String())

	require.NoError(t, l.Deposit(1, big.NewInt(100), big.NewInt(100)))
	require.ErrorIs(t, l.Deposit(1, big.NewInt(100), big.NewInt(100)), ErrInvalidState)
	require.Equal(t, "100", l.Total().String())
	require.Equal(t, "100", l.Held(1).String())
}

func TestLedgerPayoutAtMostOnce(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Deposit(7, big.NewInt(30), big.NewInt(30)))
	require.NoError(t, l.Deposit(8, big.NewInt(20), big.NewInt(20)))

	_, err := l.Payout(7, big.NewInt(10), sellerB)
	require.ErrorIs(t, err, ErrInvalidAmount)

	p, err := l.Payout(7, big.NewInt(30), sellerB)
	require.NoError(t, err)
	require.Equal(t, uint64(7), p.EscrowID)
	require.Equal(t, "30", p.Amount.String())

	_, err = l.Payout(7, big.NewInt(30), sellerB)
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.ErrorIs(t, l.Deposit(7, big.NewInt(30), big.NewInt(30)), ErrAlreadySettled)

	require.Equal(t, "20", l.Total().String())
	require.Equal(t, "30", l.Balance(sellerB).String())
	require.Equal(t, "0", l.Balance(buyerA).String())
}

func TestLedgerPayoutWithoutCustody(t *testing.T) {
	l := NewLedger()
	_, err := l.Payout(3, big.NewInt(1), buyerA)
	require.ErrorIs(t, err, ErrInvalidState)
	_, ok := l.PaidOut(3)
	require.False(t, ok)
}

func TestLedgerReturnsCopies(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Deposit(1, big.NewInt(5), big.NewInt(5)))
	total := l.Total()
	total.SetInt64(999)
	require.Equal(t, "5", l.Total().String())
}
