// Package chain supplies the block-height clock that gates the pool's phases.
// The pool only reads the height; advancing it belongs to the host chain, or
// to ManualClock in development.
package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// HeightSource returns the current block height.
type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ HeightSource = (*ethclient.Client)(nil)

// Dial connects to an Ethereum JSON-RPC endpoint. The returned client is a
// HeightSource.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", trimmed, err)
	}
	return client, nil
}

// ManualClock is a HeightSource advanced explicitly. It never goes
// backwards.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
}

// NewManualClock starts the clock at height.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

func (c *ManualClock) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// Advance mines n blocks and returns the new height.
func (c *ManualClock) Advance(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
	return c.height
}

// AdvanceTo moves the clock to height if it is ahead of the current one.
func (c *ManualClock) AdvanceTo(height uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
	return c.height
}
