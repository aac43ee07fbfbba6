package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"feeScope/internal/chain"
	"feeScope/internal/feemath"
	"feeScope/internal/model"
)

// ReaderConfig configures a SnapshotReader.
type ReaderConfig struct {
	PositionManager common.Address
	// Factory is resolved from the position manager when zero.
	Factory      common.Address
	MaxRetries   int
	RetryBackoff time.Duration
}

// PositionState is everything needed to price one position at one block.
type PositionState struct {
	Ref         model.PositionRef
	BlockNumber uint64
	Pool        model.PoolMeta
	CurrentTick int32
	PoolFees    feemath.PoolSnapshot
	Lower       feemath.TickSnapshot
	Upper       feemath.TickSnapshot
	Position    feemath.PositionSnapshot
}

// Input converts the state into calculator input.
func (s PositionState) Input() feemath.Input {
	return feemath.Input{
		CurrentTick: s.CurrentTick,
		Pool:        s.PoolFees,
		Lower:       s.Lower,
		Upper:       s.Upper,
		Position:    s.Position,
	}
}

// SnapshotReader reads pool, tick and position state through eth_call.
type SnapshotReader struct {
	cfg       ReaderConfig
	caller    Caller
	poolMeta  *MetaCache[model.PoolMeta]
	tokenMeta *MetaCache[model.TokenMeta]
	logger    *zap.Logger

	factoryMu sync.Mutex
}

func NewSnapshotReader(cfg ReaderConfig, caller Caller, logger *zap.Logger) *SnapshotReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotReader{
		cfg:       cfg,
		caller:    caller,
		poolMeta:  NewMetaCache[model.PoolMeta](),
		tokenMeta: NewMetaCache[model.TokenMeta](),
		logger:    logger,
	}
}

// ReadPosition reads every snapshot of a position at blockNumber (0 means latest).
func (r *SnapshotReader) ReadPosition(ctx context.Context, ref model.PositionRef, blockNumber uint64) (PositionState, error) {
	var block *big.Int
	if blockNumber > 0 {
		block = new(big.Int).SetUint64(blockNumber)
	}

	state := PositionState{Ref: ref, BlockNumber: blockNumber}

	var pool common.Address
	switch ref.Kind {
	case model.PositionKindNFT:
		position, poolAddr, err := r.readNFTPosition(ctx, ref.TokenID, block)
		if err != nil {
			return PositionState{}, err
		}
		state.Position = position
		pool = poolAddr
	case model.PositionKindPool:
		position, err := r.readPoolPosition(ctx, ref, block)
		if err != nil {
			return PositionState{}, err
		}
		state.Position = position
		pool = ref.Pool
	default:
		return PositionState{}, fmt.Errorf("unsupported position kind %q", ref.Kind)
	}

	meta, err := r.PoolMeta(ctx, pool)
	if err != nil {
		return PositionState{}, err
	}
	state.Pool = meta

	if err := r.readPoolState(ctx, pool, block, &state); err != nil {
		return PositionState{}, err
	}
	return state, nil
}

// PoolMeta returns cached pool metadata, loading it on first use.
func (r *SnapshotReader) PoolMeta(ctx context.Context, pool common.Address) (model.PoolMeta, error) {
	if meta, ok := r.poolMeta.Get(pool); ok {
		return meta, nil
	}
	var meta model.PoolMeta
	err := r.retry(ctx, "pool meta", func(ctx context.Context) error {
		var err error
		meta, err = FetchPoolMeta(ctx, r.caller, pool)
		return err
	})
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("pool %s meta: %w", pool.Hex(), err)
	}
	r.poolMeta.Set(pool, meta)
	return meta, nil
}

// TokenMeta returns cached token metadata, loading it on first use. Failed
// loads are not cached.
func (r *SnapshotReader) TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.tokenMeta.Get(token); ok {
		return meta, nil
	}
	var meta model.TokenMeta
	err := r.retry(ctx, "token meta", func(ctx context.Context) error {
		var err error
		meta, err = FetchTokenMeta(ctx, r.caller, token, r.logger)
		if chain.IsReverted(err) {
			return chain.Permanent(err)
		}
		return err
	})
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("token %s meta: %w", token.Hex(), err)
	}
	r.tokenMeta.Set(token, meta)
	return meta, nil
}

func (r *SnapshotReader) readNFTPosition(ctx context.Context, tokenID *big.Int, block *big.Int) (feemath.PositionSnapshot, common.Address, error) {
	if tokenID == nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("token id is required")
	}
	if r.cfg.PositionManager == (common.Address{}) {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("position manager address is required")
	}
	npmABI, err := PositionManagerABI()
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}

	values, err := r.call(ctx, r.cfg.PositionManager, npmABI, "positions", block, tokenID)
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, err
	}
	if len(values) != 12 {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("positions: unexpected output size %d", len(values))
	}

	token0, err := asAddress(values[2])
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("positions token0: %w", err)
	}
	token1, err := asAddress(values[3])
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("positions token1: %w", err)
	}
	fee, err := asBigInt(values[4])
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("positions fee: %w", err)
	}

	position, err := positionFromValues(values[5], values[6], values[7:12])
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, fmt.Errorf("position %s: %w", tokenID, err)
	}

	pool, err := r.resolvePool(ctx, token0, token1, fee)
	if err != nil {
		return feemath.PositionSnapshot{}, common.Address{}, err
	}
	return position, pool, nil
}

func (r *SnapshotReader) readPoolPosition(ctx context.Context, ref model.PositionRef, block *big.Int) (feemath.PositionSnapshot, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}

	key := PositionKey(ref.Owner, ref.TickLower, ref.TickUpper)
	values, err := r.call(ctx, ref.Pool, poolABI, "positions", block, key)
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}
	if len(values) != 5 {
		return feemath.PositionSnapshot{}, fmt.Errorf("positions: unexpected output size %d", len(values))
	}

	position, err := positionFromValues(big.NewInt(int64(ref.TickLower)), big.NewInt(int64(ref.TickUpper)), values)
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("position %s: %w", ref.ID(), err)
	}
	return position, nil
}

// positionFromValues maps (liquidity, inside0Last, inside1Last, owed0, owed1).
func positionFromValues(lowerValue, upperValue interface{}, values []interface{}) (feemath.PositionSnapshot, error) {
	lowerInt, err := asBigInt(lowerValue)
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("tick lower: %w", err)
	}
	lower, err := int24FromBig(lowerInt)
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("tick lower: %w", err)
	}
	upperInt, err := asBigInt(upperValue)
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("tick upper: %w", err)
	}
	upper, err := int24FromBig(upperInt)
	if err != nil {
		return feemath.PositionSnapshot{}, fmt.Errorf("tick upper: %w", err)
	}

	ints := make([]*big.Int, len(values))
	for i, value := range values {
		ints[i], err = asBigInt(value)
		if err != nil {
			return feemath.PositionSnapshot{}, err
		}
	}

	liquidity, err := feemath.LiquidityFromBig(ints[0])
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}
	inside0, err := feemath.FromBig("fee_growth_inside0_last", ints[1])
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}
	inside1, err := feemath.FromBig("fee_growth_inside1_last", ints[2])
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}
	owed0, err := feemath.FromBig("tokens_owed0", ints[3])
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}
	owed1, err := feemath.FromBig("tokens_owed1", ints[4])
	if err != nil {
		return feemath.PositionSnapshot{}, err
	}

	return feemath.PositionSnapshot{
		Liquidity:            liquidity,
		TickLower:            lower,
		TickUpper:            upper,
		FeeGrowthInside0Last: inside0,
		FeeGrowthInside1Last: inside1,
		TokensOwed0:          owed0,
		TokensOwed1:          owed1,
	}, nil
}

func (r *SnapshotReader) readPoolState(ctx context.Context, pool common.Address, block *big.Int, state *PositionState) error {
	poolABI, err := V3PoolABI()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := r.call(ctx, pool, poolABI, "slot0", block)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("slot0: unexpected output size %d", len(values))
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return fmt.Errorf("slot0 tick: %w", err)
	}
	state.CurrentTick, err = int24FromBig(tickInt)
	if err != nil {
		return fmt.Errorf("slot0 tick: %w", err)
	}

	global0, err := r.callUint256(ctx, pool, poolABI, "feeGrowthGlobal0X128", block)
	if err != nil {
		return err
	}
	global1, err := r.callUint256(ctx, pool, poolABI, "feeGrowthGlobal1X128", block)
	if err != nil {
		return err
	}
	state.PoolFees = feemath.PoolSnapshot{FeeGrowthGlobal0: global0, FeeGrowthGlobal1: global1}

	state.Lower, err = r.readTick(ctx, pool, poolABI, state.Position.TickLower, block)
	if err != nil {
		return err
	}
	state.Upper, err = r.readTick(ctx, pool, poolABI, state.Position.TickUpper, block)
	if err != nil {
		return err
	}
	return nil
}

func (r *SnapshotReader) readTick(ctx context.Context, pool common.Address, poolABI abi.ABI, tick int32, block *big.Int) (feemath.TickSnapshot, error) {
	values, err := r.call(ctx, pool, poolABI, "ticks", block, big.NewInt(int64(tick)))
	if err != nil {
		return feemath.TickSnapshot{}, fmt.Errorf("tick %d: %w", tick, err)
	}
	if len(values) != 8 {
		return feemath.TickSnapshot{}, fmt.Errorf("tick %d: unexpected output size %d", tick, len(values))
	}

	outside0Int, err := asBigInt(values[2])
	if err != nil {
		return feemath.TickSnapshot{}, fmt.Errorf("tick %d: %w", tick, err)
	}
	outside1Int, err := asBigInt(values[3])
	if err != nil {
		return feemath.TickSnapshot{}, fmt.Errorf("tick %d: %w", tick, err)
	}
	outside0, err := feemath.FromBig("fee_growth_outside0", outside0Int)
	if err != nil {
		return feemath.TickSnapshot{}, err
	}
	outside1, err := feemath.FromBig("fee_growth_outside1", outside1Int)
	if err != nil {
		return feemath.TickSnapshot{}, err
	}

	if initialized, err := asBool(values[7]); err == nil && !initialized {
		r.logger.Debug("tick not initialized", zap.String("pool", pool.Hex()), zap.Int32("tick", tick))
	}

	return feemath.TickSnapshot{FeeGrowthOutside0: outside0, FeeGrowthOutside1: outside1}, nil
}

func (r *SnapshotReader) resolvePool(ctx context.Context, token0, token1 common.Address, fee *big.Int) (common.Address, error) {
	factory, err := r.factory(ctx)
	if err != nil {
		return common.Address{}, err
	}
	parsed, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := r.call(ctx, factory, parsed, "getPool", nil, token0, token1, fee)
	if err != nil {
		return common.Address{}, err
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool: %w", err)
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no pool for %s/%s fee %s", token0.Hex(), token1.Hex(), fee)
	}
	return pool, nil
}

func (r *SnapshotReader) factory(ctx context.Context) (common.Address, error) {
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()

	if r.cfg.Factory != (common.Address{}) {
		return r.cfg.Factory, nil
	}
	npmABI, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := r.call(ctx, r.cfg.PositionManager, npmABI, "factory", nil)
	if err != nil {
		return common.Address{}, err
	}
	factory, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("factory: %w", err)
	}
	r.cfg.Factory = factory
	return factory, nil
}

func (r *SnapshotReader) callUint256(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int) (*uint256.Int, error) {
	values, err := r.call(ctx, to, parsed, method, block)
	if err != nil {
		return nil, err
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return feemath.FromBig(method, value)
}

func (r *SnapshotReader) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	var values []interface{}
	err := r.retry(ctx, method, func(ctx context.Context) error {
		var err error
		values, err = callMethod(ctx, r.caller, to, parsed, method, block, args...)
		if chain.IsReverted(err) {
			return chain.Permanent(err)
		}
		return err
	})
	return values, err
}

func (r *SnapshotReader) retry(ctx context.Context, what string, fn func(context.Context) error) error {
	return chain.WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Debug("snapshot read failed", zap.String("call", what), zap.Error(err))
		}
		return err
	})
}

// PositionKey is keccak256(abi.encodePacked(owner, int24 tickLower, int24 tickUpper)),
// the key of a position in the pool's positions mapping.
func PositionKey(owner common.Address, tickLower, tickUpper int32) common.Hash {
	var buf bytes.Buffer
	buf.Write(owner.Bytes())
	buf.Write(int24Bytes(tickLower))
	buf.Write(int24Bytes(tickUpper))
	return crypto.Keccak256Hash(buf.Bytes())
}

func int24Bytes(v int32) []byte {
	u := uint32(v) & 0xffffff
	return []byte{byte(u >> 16), byte(u >> 8), byte(u)}
}
