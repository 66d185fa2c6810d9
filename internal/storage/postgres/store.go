// Package postgres persists the settlement journal in Postgres: the consumed
// message set, vault snapshots and the outbound payload log.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crosslend/internal/replay"
	"crosslend/internal/storage"
)

// Store provides Postgres persistence for the settlement state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ConsumeHash records a message hash. A hash already present means a replay.
func (s *Store) ConsumeHash(ctx context.Context, hash common.Hash) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consumed_messages (hash, consumed_at)
		VALUES ($1, now())
		ON CONFLICT (hash) DO NOTHING
	`, hash.Hex())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return replay.ErrAlreadyConsumed
	}
	return nil
}

// HashConsumed reports whether a message hash has been recorded.
func (s *Store) HashConsumed(ctx context.Context, hash common.Hash) (bool, error) {
	var one int
	row := s.pool.QueryRow(ctx, `SELECT 1 FROM consumed_messages WHERE hash=$1`, hash.Hex())
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpsertVaults writes a batch of vault snapshots.
func (s *Store) UpsertVaults(ctx context.Context, vaults []storage.VaultSnapshot) error {
	if len(vaults) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, vault := range vaults {
		batch.Queue(`
			INSERT INTO vaults (
				account, asset, deposited, borrowed, created_at, updated_at
			) VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (account, asset)
			DO UPDATE SET
				deposited = EXCLUDED.deposited,
				borrowed = EXCLUDED.borrowed,
				updated_at = now()
		`,
			vault.Account,
			vault.Asset,
			vault.Deposited,
			vault.Borrowed,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range vaults {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// AppendOutbound records published payloads in the outbound log.
func (s *Store) AppendOutbound(ctx context.Context, records []storage.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(`
			INSERT INTO outbound_messages (sequence, kind, account, payload, published_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (sequence) DO NOTHING
		`,
			int64(record.Sequence),
			record.Kind,
			record.Account,
			record.Payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed block for a named watcher.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM settle_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// SaveState upserts the last processed block for a named watcher.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settle_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, block)
	return err
}

// Guard adapts the consumed message set to the replay guard interface.
type Guard struct {
	store *Store
	ctx   context.Context
}

func (s *Store) Guard(ctx context.Context) *Guard {
	return &Guard{store: s, ctx: ctx}
}

func (g *Guard) Consume(hash common.Hash) error {
	return g.store.ConsumeHash(g.ctx, hash)
}

func (g *Guard) Consumed(hash common.Hash) bool {
	consumed, err := g.store.HashConsumed(g.ctx, hash)
	return err == nil && consumed
}
