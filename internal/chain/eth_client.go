package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"p2pescrow/internal/escrow"
)

// EthClient reads a deployed P2PEscrow contract over JSON-RPC. It never
// submits transactions.
type EthClient struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	variant  escrow.Variant
}

type EthClientConfig struct {
	RPCURL   string
	Contract string
	Variant  escrow.Variant
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("escrow contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsed, err := EscrowABI()
	if err != nil {
		cli.Close()
		return nil, err
	}

	address := common.HexToAddress(cfg.Contract)
	return &EthClient{
		client:   cli,
		contract: bind.NewBoundContract(address, parsed, cli, cli, cli),
		address:  address,
		variant:  cfg.Variant,
	}, nil
}

func (c *EthClient) Address() common.Address {
	return c.address
}

func (c *EthClient) EscrowCounter(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "escrowCounter"); err != nil {
		return 0, fmt.Errorf("call escrowCounter: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("escrowCounter returned %d values", len(out))
	}
	counter := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if counter == nil || !counter.IsUint64() {
		return 0, fmt.Errorf("escrowCounter out of range")
	}
	return counter.Uint64(), nil
}

func (c *EthClient) GetEscrow(ctx context.Context, id uint64) (*escrow.Record, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getEscrow", new(big.Int).SetUint64(id)); err != nil {
		return nil, fmt.Errorf("call getEscrow(%d): %w", id, err)
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("getEscrow returned %d values", len(out))
	}

	rec := &escrow.Record{
		ID:          id,
		Buyer:       *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Seller:      *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Amount:      *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Item:        *abi.ConvertType(out[3], new(string)).(*string),
		Description: *abi.ConvertType(out[4], new(string)).(*string),
	}
	// Unused slots read back as the zero record.
	if rec.Buyer == (common.Address{}) {
		return nil, fmt.Errorf("%w: id %d", escrow.ErrNotFound, id)
	}

	raw := *abi.ConvertType(out[5], new(uint8)).(*uint8)
	status, err := StatusFromContract(c.variant, raw)
	if err != nil {
		return nil, err
	}
	rec.Status = status

	createdAt := *abi.ConvertType(out[6], new(*big.Int)).(**big.Int)
	if createdAt != nil && createdAt.IsInt64() {
		rec.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()
	}
	return rec, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
