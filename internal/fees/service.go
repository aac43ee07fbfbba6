package fees

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feeScope/internal/dex"
	"feeScope/internal/feemath"
	"feeScope/internal/model"
	"feeScope/internal/protoday"
	"feeScope/internal/storage"
)

const defaultConcurrency = 8

// Reader loads pinned position state and token metadata.
type Reader interface {
	ReadPosition(ctx context.Context, ref model.PositionRef, blockNumber uint64) (dex.PositionState, error)
	TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error)
}

// BlockSource resolves the block a run is pinned to and its timestamp.
type BlockSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Config controls a fee run.
type Config struct {
	ChainID uint64
	// Block pins every read; 0 resolves the latest block once per run.
	Block       uint64
	Concurrency int
	// Clock stamps results with the protocol day of the pinned block.
	Clock protoday.Clock
}

// Failure records a position that could not be priced.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Report is the outcome of one run.
type Report struct {
	Block     uint64
	Positions []model.PositionFees
	Failures  []Failure
}

// Service prices uncollected fees for many positions at one block.
type Service struct {
	cfg    Config
	reader Reader
	blocks BlockSource
	calc   *feemath.Calculator
	store  storage.PositionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds a Service. A nil store skips persistence.
func NewService(cfg Config, reader Reader, blocks BlockSource, calc *feemath.Calculator, store storage.PositionStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if calc == nil {
		calc = feemath.NewCalculator(feemath.CeilingFromBits(feemath.DefaultCeilingBits), logger)
	}
	return &Service{
		cfg:    cfg,
		reader: reader,
		blocks: blocks,
		calc:   calc,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Run prices every ref. Successful results are stored even when some
// positions fail; the returned error then names the failure count.
func (s *Service) Run(ctx context.Context, refs []model.PositionRef) (Report, error) {
	if s.reader == nil {
		return Report{}, fmt.Errorf("snapshot reader is nil")
	}

	block := s.cfg.Block
	if block == 0 {
		if s.blocks == nil {
			return Report{}, fmt.Errorf("block source is nil")
		}
		latest, err := s.blocks.LatestBlockNumber(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("get latest block: %w", err)
		}
		block = latest
	}

	s.logger.Info("fee run start",
		zap.Int("positions", len(refs)),
		zap.Uint64("block", block),
		zap.Int("concurrency", s.cfg.Concurrency),
	)

	day, err := s.protocolDay(ctx, block)
	if err != nil {
		return Report{Block: block}, err
	}

	results := make([]*model.PositionFees, len(refs))
	errs := make([]error, len(refs))
	updatedAt := s.now().UTC().Format(time.RFC3339)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fees, err := s.price(gctx, ref, block)
			if err != nil {
				errs[i] = err
				s.logger.Warn("position failed", zap.String("id", ref.ID()), zap.Error(err))
				return nil
			}
			fees.ProtocolDay = day
			fees.UpdatedAt = updatedAt
			results[i] = &fees
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{Block: block}, err
	}

	report := Report{Block: block}
	for i, result := range results {
		if result != nil {
			report.Positions = append(report.Positions, *result)
			continue
		}
		report.Failures = append(report.Failures, Failure{ID: refs[i].ID(), Error: errs[i].Error()})
	}

	if s.store != nil && len(report.Positions) > 0 {
		if err := s.store.PutPositions(ctx, report.Positions); err != nil {
			return report, fmt.Errorf("store positions: %w", err)
		}
	}

	s.logger.Info("fee run complete",
		zap.Uint64("block", block),
		zap.Int("priced", len(report.Positions)),
		zap.Int("failed", len(report.Failures)),
	)

	if len(report.Failures) > 0 {
		return report, fmt.Errorf("%d of %d positions failed", len(report.Failures), len(refs))
	}
	return report, nil
}

func (s *Service) protocolDay(ctx context.Context, block uint64) (uint64, error) {
	if !s.cfg.Clock.Enabled() {
		return 0, nil
	}
	if s.blocks == nil {
		return 0, fmt.Errorf("block source is nil")
	}
	ts, err := s.blocks.BlockTimestamp(ctx, block)
	if err != nil {
		return 0, fmt.Errorf("block %d timestamp: %w", block, err)
	}
	return s.cfg.Clock.At(time.Unix(int64(ts), 0).UTC()), nil
}

func (s *Service) price(ctx context.Context, ref model.PositionRef, block uint64) (model.PositionFees, error) {
	state, err := s.reader.ReadPosition(ctx, ref, block)
	if err != nil {
		return model.PositionFees{}, err
	}
	result, err := s.calc.Uncollected(state.Input())
	if err != nil {
		return model.PositionFees{}, err
	}

	claimable0, err := claimable(result.Uncollected0, state.Position.TokensOwed0)
	if err != nil {
		return model.PositionFees{}, fmt.Errorf("token0: %w", err)
	}
	claimable1, err := claimable(result.Uncollected1, state.Position.TokensOwed1)
	if err != nil {
		return model.PositionFees{}, fmt.Errorf("token1: %w", err)
	}

	fees := model.PositionFees{
		ID:           ref.ID(),
		ChainID:      s.cfg.ChainID,
		BlockNumber:  block,
		Pool:         state.Pool.Address,
		Token0:       state.Pool.Token0,
		Token1:       state.Pool.Token1,
		Fee:          state.Pool.Fee,
		TickLower:    state.Position.TickLower,
		TickUpper:    state.Position.TickUpper,
		CurrentTick:  state.CurrentTick,
		RangeStatus:  result.Inside.Status.String(),
		Liquidity:    state.Position.Liquidity.Dec(),
		Uncollected0: result.Uncollected0.Dec(),
		Uncollected1: result.Uncollected1.Dec(),
		TokensOwed0:  state.Position.TokensOwed0.Dec(),
		TokensOwed1:  state.Position.TokensOwed1.Dec(),
		Claimable0:   claimable0.Dec(),
		Claimable1:   claimable1.Dec(),
		Clamped0:     result.Clamped0,
		Clamped1:     result.Clamped1,
	}

	// Display amounts stay empty when decimals are unknown.
	if token0, err := s.reader.TokenMeta(ctx, common.HexToAddress(state.Pool.Token0)); err == nil {
		fees.Symbol0 = token0.Symbol
		fees.Claimable0Display = FormatAmount(claimable0, token0.Decimals)
	} else {
		s.logger.Warn("token0 metadata unavailable", zap.String("id", ref.ID()), zap.Error(err))
	}
	if token1, err := s.reader.TokenMeta(ctx, common.HexToAddress(state.Pool.Token1)); err == nil {
		fees.Symbol1 = token1.Symbol
		fees.Claimable1Display = FormatAmount(claimable1, token1.Decimals)
	} else {
		s.logger.Warn("token1 metadata unavailable", zap.String("id", ref.ID()), zap.Error(err))
	}
	return fees, nil
}

func claimable(uncollected, owed *uint256.Int) (*uint256.Int, error) {
	if owed == nil {
		return new(uint256.Int).Set(uncollected), nil
	}
	sum, overflow := new(uint256.Int).AddOverflow(uncollected, owed)
	if overflow {
		return nil, fmt.Errorf("claimable amount overflows 256 bits")
	}
	return sum, nil
}

// FormatAmount renders a base-unit amount with decimals applied.
func FormatAmount(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
