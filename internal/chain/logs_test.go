package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"p2pescrow/internal/escrow"
)

var (
	contractAddr = common.HexToAddress("0x2207Bab64eAF91daf61e3EB562E97E1a26be8f73")
	buyer        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seller       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestEncodeLogMatchesContractLayout(t *testing.T) {
	ev := escrow.Event{Seq: 1, Kind: escrow.EventCreated, EscrowID: 1, Buyer: buyer, Seller: seller, Amount: big.NewInt(100)}
	lg, err := EncodeLog(contractAddr, ev)
	require.NoError(t, err)

	sig := crypto.Keccak256Hash([]byte("EscrowCreated(uint256,address,address,uint256)"))
	require.Equal(t, contractAddr, lg.Address)
	require.Len(t, lg.Topics, 4)
	require.Equal(t, sig, lg.Topics[0])
	require.Equal(t, common.BigToHash(big.NewInt(1)), lg.Topics[1])
	require.Equal(t, common.BytesToHash(buyer.Bytes()), lg.Topics[2])
	require.Equal(t, common.BytesToHash(seller.Bytes()), lg.Topics[3])
	require.Equal(t, common.LeftPadBytes(big.NewInt(100).Bytes(), 32), lg.Data)
}

func TestLogRoundTrip(t *testing.T) {
	events := []escrow.Event{
		{Kind: escrow.EventCreated, EscrowID: 3, Buyer: buyer, Seller: seller, Amount: big.NewInt(7)},
		{Kind: escrow.EventAccepted, EscrowID: 3, Seller: seller},
		{Kind: escrow.EventFunded, EscrowID: 3, Buyer: buyer, Amount: big.NewInt(7)},
		{Kind: escrow.EventDelivered, EscrowID: 3, Seller: seller},
		{Kind: escrow.EventCompleted, EscrowID: 3, Buyer: buyer},
		{Kind: escrow.EventRefunded, EscrowID: 9, Buyer: buyer},
	}
	for _, ev := range events {
		t.Run(string(ev.Kind), func(t *testing.T) {
			lg, err := EncodeLog(contractAddr, ev)
			require.NoError(t, err)
			if ev.Amount == nil {
				require.Empty(t, lg.Data)
			}

			back, err := DecodeLog(lg)
			require.NoError(t, err)
			require.Equal(t, ev.Kind, back.Kind)
			require.Equal(t, ev.EscrowID, back.EscrowID)
			require.Equal(t, ev.Buyer, back.Buyer)
			require.Equal(t, ev.Seller, back.Seller)
			if ev.Amount != nil {
				require.Equal(t, ev.Amount.String(), back.Amount.String())
			} else {
				require.Nil(t, back.Amount)
			}
		})
	}
}

func TestEncodeLogRequiresAmount(t *testing.T) {
	_, err := EncodeLog(contractAddr, escrow.Event{Kind: escrow.EventFunded, EscrowID: 1, Buyer: buyer})
	require.Error(t, err)
}

func TestDecodeLogRejectsForeignEvents(t *testing.T) {
	transfer := types.Log{Topics: []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))}}
	_, err := DecodeLog(transfer)
	require.Error(t, err)

	_, err = DecodeLog(types.Log{})
	require.Error(t, err)
}
