package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes client behavior.
type Options struct {
	// RequestsPerSecond caps calls across all endpoints; 0 disables the limit.
	RequestsPerSecond float64
	Burst             int
}

type endpoint struct {
	url       string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// Client wraps go-ethereum RPC over one or more endpoints. Calls go to the
// active endpoint and fall over to the next one on error.
type Client struct {
	endpoints []endpoint
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu     sync.RWMutex
	active int

	tsMu    sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient dials every RPC URL. Unreachable URLs are skipped as long as one remains.
func NewClient(ctx context.Context, rpcURLs []string, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("at least one rpc url is required")
	}

	endpoints := make([]endpoint, 0, len(rpcURLs))
	var lastErr error
	for _, url := range rpcURLs {
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			logger.Warn("dial rpc failed", zap.String("rpc", url), zap.Error(err))
			lastErr = err
			continue
		}
		endpoints = append(endpoints, endpoint{
			url:       url,
			rpcClient: rpcClient,
			ethClient: ethclient.NewClient(rpcClient),
		})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no rpc endpoint available: %w", lastErr)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		endpoints: endpoints,
		limiter:   limiter,
		logger:    logger,
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes all underlying RPC clients.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		if ep.rpcClient != nil {
			ep.rpcClient.Close()
		}
	}
}

func (c *Client) do(ctx context.Context, method string, fn func(*ethclient.Client) error) error {
	c.mu.RLock()
	start := c.active
	c.mu.RUnlock()

	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		idx := (start + i) % len(c.endpoints)
		err := fn(c.endpoints[idx].ethClient)
		if err == nil {
			if idx != start {
				c.mu.Lock()
				c.active = idx
				c.mu.Unlock()
				c.logger.Info("switched rpc endpoint", zap.String("rpc", c.endpoints[idx].url))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		c.logger.Debug("rpc call failed", zap.String("method", method), zap.String("rpc", c.endpoints[idx].url), zap.Error(err))
	}
	return lastErr
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.do(ctx, "eth_chainId", func(ec *ethclient.Client) error {
		var err error
		id, err = ec.ChainID(ctx)
		return err
	})
	return id, err
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.do(ctx, "eth_blockNumber", func(ec *ethclient.Client) error {
		var err error
		number, err = ec.BlockNumber(ctx)
		return err
	})
	return number, err
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.do(ctx, "eth_getBlockByNumber", func(ec *ethclient.Client) error {
		var err error
		header, err = ec.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.tsMu.RLock()
	ts, ok := c.tsCache[number]
	c.tsMu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.tsMu.Lock()
	c.tsCache[number] = ts
	c.tsMu.Unlock()

	return ts, nil
}

// FilterLogs returns logs in the given range. topics follows go-ethereum
// FilterQuery semantics: one OR-set per topic position.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topics [][]common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    topics,
	}
	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func(ec *ethclient.Client) error {
		var err error
		logs, err = ec.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ec *ethclient.Client) error {
		var err error
		out, err = ec.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}
