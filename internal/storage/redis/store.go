package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"feeScope/internal/model"
	"feeScope/internal/storage"
)

const keyPrefix = "feescope"

// Options configures the Redis connection. ChainID scopes every key.
type Options struct {
	Addr     string
	Password string
	DB       int
	ChainID  uint64
}

// Store keeps position fees and ledgers as JSON string values under
// feescope:<chain>:position:<id> and feescope:<chain>:ledger:<id>.
type Store struct {
	client  *redis.Client
	chainID uint64
	logger  *zap.Logger
}

func NewStore(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing redis client",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Uint64("chain_id", opts.ChainID),
	)
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, chainID: opts.ChainID, logger: logger}, nil
}

func PositionKey(chainID uint64, id string) string {
	return fmt.Sprintf("%s:%d:position:%s", keyPrefix, chainID, id)
}

func LedgerKey(chainID uint64, id string) string {
	return fmt.Sprintf("%s:%d:ledger:%s", keyPrefix, chainID, id)
}

func (s *Store) GetPosition(ctx context.Context, id string) (model.PositionFees, bool, error) {
	var position model.PositionFees
	ok, err := s.get(ctx, PositionKey(s.chainID, id), &position)
	return position, ok, err
}

func (s *Store) PutPositions(ctx context.Context, positions []model.PositionFees) error {
	if len(positions) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(positions))
	for _, position := range positions {
		if position.ID == "" {
			return fmt.Errorf("position id is required")
		}
		if err := storage.CheckChain(s.chainID, position.ChainID, position.ID); err != nil {
			return err
		}
		values[PositionKey(s.chainID, position.ID)] = position
	}
	return s.setBatch(ctx, values)
}

func (s *Store) GetLedger(ctx context.Context, id string) (model.PositionLedger, bool, error) {
	var ledger model.PositionLedger
	ok, err := s.get(ctx, LedgerKey(s.chainID, id), &ledger)
	return ledger, ok, err
}

func (s *Store) PutLedgers(ctx context.Context, ledgers []model.PositionLedger) error {
	if len(ledgers) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(ledgers))
	for _, ledger := range ledgers {
		if ledger.ID == "" {
			return fmt.Errorf("ledger id is required")
		}
		if err := storage.CheckChain(s.chainID, ledger.ChainID, ledger.ID); err != nil {
			return err
		}
		values[LedgerKey(s.chainID, ledger.ID)] = ledger
	}
	return s.setBatch(ctx, values)
}

func (s *Store) Close() error {
	s.logger.Debug("closing redis client")
	return s.client.Close()
}

func (s *Store) get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// setBatch writes all values in one pipeline.
func (s *Store) setBatch(ctx context.Context, values map[string]interface{}) error {
	pipe := s.client.Pipeline()
	for key, value := range values {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		pipe.Set(ctx, key, payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	s.logger.Debug("redis batch written", zap.Int("keys", len(values)))
	return nil
}
