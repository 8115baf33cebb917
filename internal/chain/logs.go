package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"p2pescrow/internal/escrow"
)

// EncodeLog renders ev the way the contract emits it: topic 0 is the event
// signature, the indexed escrow id and party addresses follow, and the amount
// (Created and Funded only) is ABI-packed into data.
func EncodeLog(contract common.Address, ev escrow.Event) (types.Log, error) {
	parsed, err := EscrowABI()
	if err != nil {
		return types.Log{}, err
	}
	event, ok := parsed.Events[string(ev.Kind)]
	if !ok {
		return types.Log{}, fmt.Errorf("chain: no abi event for %q", ev.Kind)
	}

	topics := []common.Hash{event.ID}
	var data []interface{}
	for _, arg := range event.Inputs {
		value, err := eventField(ev, arg.Name)
		if err != nil {
			return types.Log{}, err
		}
		if !arg.Indexed {
			data = append(data, value)
			continue
		}
		switch v := value.(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		}
	}

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("chain: pack %s: %w", ev.Kind, err)
	}
	lg := types.Log{
		Address: contract,
		Topics:  topics,
		Data:    packed,
	}
	if ev.Seq > 0 {
		lg.Index = uint(ev.Seq - 1)
	}
	return lg, nil
}

func eventField(ev escrow.Event, name string) (interface{}, error) {
	switch name {
	case "escrowId":
		return new(big.Int).SetUint64(ev.EscrowID), nil
	case "buyer":
		return ev.Buyer, nil
	case "seller":
		return ev.Seller, nil
	case "amount":
		if ev.Amount == nil {
			return nil, fmt.Errorf("chain: %s event for escrow %d has no amount", ev.Kind, ev.EscrowID)
		}
		return ev.Amount, nil
	default:
		return nil, fmt.Errorf("chain: unexpected event field %q", name)
	}
}

// DecodeLog parses a contract log back into an event. Seq and At are not part
// of the log and stay zero.
func DecodeLog(lg types.Log) (escrow.Event, error) {
	parsed, err := EscrowABI()
	if err != nil {
		return escrow.Event{}, err
	}
	if len(lg.Topics) == 0 {
		return escrow.Event{}, fmt.Errorf("chain: log has no topics")
	}
	event, err := parsed.EventByID(lg.Topics[0])
	if err != nil {
		return escrow.Event{}, fmt.Errorf("chain: unknown event: %w", err)
	}

	fields := make(map[string]interface{})
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return escrow.Event{}, fmt.Errorf("chain: decode %s topics: %w", event.Name, err)
	}
	if len(lg.Data) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, lg.Data); err != nil {
			return escrow.Event{}, fmt.Errorf("chain: decode %s data: %w", event.Name, err)
		}
	}

	out := escrow.Event{Kind: escrow.EventKind(event.Name)}
	id, ok := fields["escrowId"].(*big.Int)
	if !ok || !id.IsUint64() {
		return escrow.Event{}, fmt.Errorf("chain: %s log has invalid escrow id", event.Name)
	}
	out.EscrowID = id.Uint64()
	if v, ok := fields["buyer"].(common.Address); ok {
		out.Buyer = v
	}
	if v, ok := fields["seller"].(common.Address); ok {
		out.Seller = v
	}
	if v, ok := fields["amount"].(*big.Int); ok {
		out.Amount = v
	}
	return out, nil
}
