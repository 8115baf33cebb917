// Package chain keeps the engine wire-compatible with the deployed P2P escrow
// contracts: event logs, status ordinals and read-only contract calls.
package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed p2pescrow.abi.json
var escrowABIJSON []byte

var (
	parseOnce sync.Once
	parsedABI abi.ABI
	parseErr  error
)

// EscrowABI returns the parsed contract ABI. It covers both contract
// revisions; the simple one lacks fundEscrow, markAsDelivered and their events.
func EscrowABI() (abi.ABI, error) {
	parseOnce.Do(func() {
		parsedABI, parseErr = abi.JSON(bytes.NewReader(escrowABIJSON))
		if parseErr != nil {
			parseErr = fmt.Errorf("parse escrow abi: %w", parseErr)
		}
	})
	return parsedABI, parseErr
}
