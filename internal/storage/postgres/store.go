package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feeScope/internal/model"
	"feeScope/internal/storage"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS position_fees (
	chain_id          BIGINT       NOT NULL,
	position_id       TEXT         NOT NULL,
	block_number      BIGINT       NOT NULL,
	pool_address      TEXT         NOT NULL,
	token0            TEXT         NOT NULL,
	token1            TEXT         NOT NULL,
	symbol0           TEXT         NOT NULL DEFAULT '',
	symbol1           TEXT         NOT NULL DEFAULT '',
	fee               INTEGER      NOT NULL,
	tick_lower        INTEGER      NOT NULL,
	tick_upper        INTEGER      NOT NULL,
	current_tick      INTEGER      NOT NULL,
	range_status      TEXT         NOT NULL,
	liquidity         NUMERIC(39,0) NOT NULL,
	uncollected0      NUMERIC(78,0) NOT NULL,
	uncollected1      NUMERIC(78,0) NOT NULL,
	tokens_owed0      NUMERIC(78,0) NOT NULL,
	tokens_owed1      NUMERIC(78,0) NOT NULL,
	claimable0        NUMERIC(78,0) NOT NULL,
	claimable1        NUMERIC(78,0) NOT NULL,
	claimable0_display TEXT        NOT NULL,
	claimable1_display TEXT        NOT NULL,
	clamped0          BOOLEAN      NOT NULL DEFAULT false,
	clamped1          BOOLEAN      NOT NULL DEFAULT false,
	protocol_day      BIGINT       NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, position_id)
);

CREATE TABLE IF NOT EXISTS position_ledgers (
	chain_id          BIGINT       NOT NULL,
	position_id       TEXT         NOT NULL,
	token_id          NUMERIC(78,0) NOT NULL,
	liquidity         NUMERIC(78,0) NOT NULL,
	deposited0        NUMERIC(78,0) NOT NULL,
	deposited1        NUMERIC(78,0) NOT NULL,
	withdrawn0        NUMERIC(78,0) NOT NULL,
	withdrawn1        NUMERIC(78,0) NOT NULL,
	collected0        NUMERIC(78,0) NOT NULL,
	collected1        NUMERIC(78,0) NOT NULL,
	collected_fees0   NUMERIC(78,0) NOT NULL,
	collected_fees1   NUMERIC(78,0) NOT NULL,
	event_count       BIGINT       NOT NULL,
	first_block       BIGINT       NOT NULL,
	last_block        BIGINT       NOT NULL,
	last_log_index    BIGINT       NOT NULL,
	created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, position_id)
);

CREATE TABLE IF NOT EXISTS indexer_state (
	name              TEXT         PRIMARY KEY,
	last_block        BIGINT       NOT NULL,
	updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for position fees, ledgers and scanner state.
// Lookups by position ID are scoped to the chain the store was opened for.
type Store struct {
	pool    *pgxpool.Pool
	chainID uint64
}

func NewStore(ctx context.Context, dsn string, chainID uint64) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, chainID: chainID}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetPosition loads one position fee record.
func (s *Store) GetPosition(ctx context.Context, id string) (model.PositionFees, bool, error) {
	var p model.PositionFees
	row := s.pool.QueryRow(ctx, `
		SELECT position_id, chain_id, block_number, pool_address, token0, token1, symbol0, symbol1,
			fee, tick_lower, tick_upper, current_tick, range_status,
			liquidity::text, uncollected0::text, uncollected1::text, tokens_owed0::text, tokens_owed1::text,
			claimable0::text, claimable1::text, claimable0_display, claimable1_display,
			clamped0, clamped1, protocol_day, to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM position_fees WHERE chain_id=$1 AND position_id=$2
	`, int64(s.chainID), id)

	var chainID, blockNumber, protocolDay int64
	var fee int64
	err := row.Scan(
		&p.ID, &chainID, &blockNumber, &p.Pool, &p.Token0, &p.Token1, &p.Symbol0, &p.Symbol1,
		&fee, &p.TickLower, &p.TickUpper, &p.CurrentTick, &p.RangeStatus,
		&p.Liquidity, &p.Uncollected0, &p.Uncollected1, &p.TokensOwed0, &p.TokensOwed1,
		&p.Claimable0, &p.Claimable1, &p.Claimable0Display, &p.Claimable1Display,
		&p.Clamped0, &p.Clamped1, &protocolDay, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PositionFees{}, false, nil
		}
		return model.PositionFees{}, false, err
	}
	p.ChainID = uint64(chainID)
	p.BlockNumber = uint64(blockNumber)
	p.Fee = uint32(fee)
	p.ProtocolDay = uint64(protocolDay)
	return p, true, nil
}

// PutPositions inserts or updates position fee records. A record is only
// replaced by one read at the same or a later block. Records of another chain
// are rejected before anything is written.
func (s *Store) PutPositions(ctx context.Context, positions []model.PositionFees) error {
	if len(positions) == 0 {
		return nil
	}
	for _, p := range positions {
		if err := storage.CheckChain(s.chainID, p.ChainID, p.ID); err != nil {
			return err
		}
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO position_fees (
				chain_id, position_id, block_number, pool_address, token0, token1, symbol0, symbol1,
				fee, tick_lower, tick_upper, current_tick, range_status, liquidity,
				uncollected0, uncollected1, tokens_owed0, tokens_owed1, claimable0, claimable1,
				claimable0_display, claimable1_display, clamped0, clamped1, protocol_day, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,now(),now())
			ON CONFLICT (chain_id, position_id)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				pool_address = EXCLUDED.pool_address,
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				symbol0 = EXCLUDED.symbol0,
				symbol1 = EXCLUDED.symbol1,
				fee = EXCLUDED.fee,
				tick_lower = EXCLUDED.tick_lower,
				tick_upper = EXCLUDED.tick_upper,
				current_tick = EXCLUDED.current_tick,
				range_status = EXCLUDED.range_status,
				liquidity = EXCLUDED.liquidity,
				uncollected0 = EXCLUDED.uncollected0,
				uncollected1 = EXCLUDED.uncollected1,
				tokens_owed0 = EXCLUDED.tokens_owed0,
				tokens_owed1 = EXCLUDED.tokens_owed1,
				claimable0 = EXCLUDED.claimable0,
				claimable1 = EXCLUDED.claimable1,
				claimable0_display = EXCLUDED.claimable0_display,
				claimable1_display = EXCLUDED.claimable1_display,
				clamped0 = EXCLUDED.clamped0,
				clamped1 = EXCLUDED.clamped1,
				protocol_day = EXCLUDED.protocol_day,
				updated_at = now()
			WHERE position_fees.block_number <= EXCLUDED.block_number
		`,
			int64(s.chainID),
			p.ID,
			int64(p.BlockNumber),
			p.Pool,
			p.Token0,
			p.Token1,
			p.Symbol0,
			p.Symbol1,
			int64(p.Fee),
			p.TickLower,
			p.TickUpper,
			p.CurrentTick,
			p.RangeStatus,
			p.Liquidity,
			p.Uncollected0,
			p.Uncollected1,
			p.TokensOwed0,
			p.TokensOwed1,
			p.Claimable0,
			p.Claimable1,
			p.Claimable0Display,
			p.Claimable1Display,
			p.Clamped0,
			p.Clamped1,
			int64(p.ProtocolDay),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetLedger loads one position ledger.
func (s *Store) GetLedger(ctx context.Context, id string) (model.PositionLedger, bool, error) {
	var l model.PositionLedger
	row := s.pool.QueryRow(ctx, `
		SELECT position_id, chain_id, token_id::text, liquidity::text,
			deposited0::text, deposited1::text, withdrawn0::text, withdrawn1::text,
			collected0::text, collected1::text, collected_fees0::text, collected_fees1::text,
			event_count, first_block, last_block, last_log_index,
			to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM position_ledgers WHERE chain_id=$1 AND position_id=$2
	`, int64(s.chainID), id)

	var chainID, eventCount, firstBlock, lastBlock, lastLogIndex int64
	err := row.Scan(
		&l.ID, &chainID, &l.TokenID, &l.Liquidity,
		&l.Deposited0, &l.Deposited1, &l.Withdrawn0, &l.Withdrawn1,
		&l.Collected0, &l.Collected1, &l.CollectedFees0, &l.CollectedFees1,
		&eventCount, &firstBlock, &lastBlock, &lastLogIndex, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PositionLedger{}, false, nil
		}
		return model.PositionLedger{}, false, err
	}
	l.ChainID = uint64(chainID)
	l.EventCount = uint64(eventCount)
	l.FirstBlock = uint64(firstBlock)
	l.LastBlock = uint64(lastBlock)
	l.LastLogIndex = uint64(lastLogIndex)
	return l, true, nil
}

// PutLedgers inserts or updates position ledgers. Ledgers of another chain
// are rejected before anything is written.
func (s *Store) PutLedgers(ctx context.Context, ledgers []model.PositionLedger) error {
	if len(ledgers) == 0 {
		return nil
	}
	for _, l := range ledgers {
		if err := storage.CheckChain(s.chainID, l.ChainID, l.ID); err != nil {
			return err
		}
	}
	batch := &pgx.Batch{}
	for _, l := range ledgers {
		batch.Queue(`
			INSERT INTO position_ledgers (
				chain_id, position_id, token_id, liquidity, deposited0, deposited1, withdrawn0, withdrawn1,
				collected0, collected1, collected_fees0, collected_fees1, event_count,
				first_block, last_block, last_log_index, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
			ON CONFLICT (chain_id, position_id)
			DO UPDATE SET
				liquidity = EXCLUDED.liquidity,
				deposited0 = EXCLUDED.deposited0,
				deposited1 = EXCLUDED.deposited1,
				withdrawn0 = EXCLUDED.withdrawn0,
				withdrawn1 = EXCLUDED.withdrawn1,
				collected0 = EXCLUDED.collected0,
				collected1 = EXCLUDED.collected1,
				collected_fees0 = EXCLUDED.collected_fees0,
				collected_fees1 = EXCLUDED.collected_fees1,
				event_count = EXCLUDED.event_count,
				first_block = EXCLUDED.first_block,
				last_block = EXCLUDED.last_block,
				last_log_index = EXCLUDED.last_log_index,
				updated_at = now()
		`,
			int64(s.chainID),
			l.ID,
			l.TokenID,
			l.Liquidity,
			l.Deposited0,
			l.Deposited1,
			l.Withdrawn0,
			l.Withdrawn1,
			l.Collected0,
			l.Collected1,
			l.CollectedFees0,
			l.CollectedFees1,
			int64(l.EventCount),
			int64(l.FirstBlock),
			int64(l.LastBlock),
			int64(l.LastLogIndex),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ledgers {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts the last processed block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}
