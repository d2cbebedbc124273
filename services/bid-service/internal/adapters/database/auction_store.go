package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/auctioneer/pkg/database"
	pkgevents "github.com/floroz/auctioneer/pkg/events"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
)

const auctionColumns = `
	id, type::text AS type, status::text AS status, seller_id, start_price, reserve_price,
	current_bid, highest_bidder_id, start_time, end_time, bid_count, reserve_met,
	winner_id, winning_bid, version, created_at, updated_at`

// PostgresAuctionStore implements auctions.Store using pgx. Every commit
// writes the auction row, its new ledger rows and the outbox event in one
// transaction, guarded by the auction version.
type PostgresAuctionStore struct {
	pool      *pgxpool.Pool
	txManager pkgdb.TransactionManager
	outbox    *PostgresOutboxRepository
}

func NewPostgresAuctionStore(pool *pgxpool.Pool, txManager pkgdb.TransactionManager, outbox *PostgresOutboxRepository) *PostgresAuctionStore {
	return &PostgresAuctionStore{
		pool:      pool,
		txManager: txManager,
		outbox:    outbox,
	}
}

func (s *PostgresAuctionStore) CreateAuction(ctx context.Context, a *auctions.Auction, outbox *pkgevents.OutboxEvent) error {
	return pkgdb.WithTx(ctx, s.txManager, func(tx pgx.Tx) error {
		query := `
			INSERT INTO auctions (
				id, type, status, seller_id, start_price, reserve_price, current_bid,
				start_time, end_time, bid_count, reserve_met, version, created_at, updated_at
			)
			VALUES ($1, $2::auction_type, $3::auction_status, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err := tx.Exec(ctx, query,
			a.ID,
			a.Type,
			a.Status,
			a.SellerID,
			a.StartPrice,
			a.ReservePrice,
			a.CurrentBid,
			a.StartTime,
			a.EndTime,
			a.BidCount,
			a.ReserveMet,
			a.Version,
			a.CreatedAt,
			a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert auction: %w", err)
		}
		return s.saveOutbox(ctx, tx, outbox)
	})
}

func (s *PostgresAuctionStore) CommitBid(ctx context.Context, commit *auctions.BidCommit) error {
	return pkgdb.WithTx(ctx, s.txManager, func(tx pgx.Tx) error {
		if err := s.updateAuction(ctx, tx, commit.Auction, commit.ExpectedVersion); err != nil {
			return err
		}

		if len(commit.Bids) > 0 {
			batch := &pgx.Batch{}
			for _, bid := range commit.Bids {
				batch.Queue(`
					INSERT INTO bids (id, auction_id, bidder_id, amount, bid_time, is_auto_bid, seq)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.BidTime, bid.IsAutoBid, bid.Seq)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert bids: %w", err)
			}
		}

		if c := commit.Ceiling; c != nil {
			query := `
				INSERT INTO proxy_bids (auction_id, bidder_id, max_bid, seq, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (auction_id, bidder_id)
				DO UPDATE SET max_bid = EXCLUDED.max_bid, seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
			`
			if _, err := tx.Exec(ctx, query, c.AuctionID, c.BidderID, c.MaxBid, c.Seq, c.UpdatedAt); err != nil {
				return fmt.Errorf("failed to upsert proxy bid: %w", err)
			}
		}

		return s.saveOutbox(ctx, tx, commit.Outbox)
	})
}

func (s *PostgresAuctionStore) CommitTransition(ctx context.Context, a *auctions.Auction, expectedVersion int64, outbox *pkgevents.OutboxEvent) error {
	return pkgdb.WithTx(ctx, s.txManager, func(tx pgx.Tx) error {
		if err := s.updateAuction(ctx, tx, a, expectedVersion); err != nil {
			return err
		}
		return s.saveOutbox(ctx, tx, outbox)
	})
}

// updateAuction writes the mutable columns when the stored version still
// matches expectedVersion.
func (s *PostgresAuctionStore) updateAuction(ctx context.Context, tx pgx.Tx, a *auctions.Auction, expectedVersion int64) error {
	query := `
		UPDATE auctions
		SET status = $1::auction_status,
			current_bid = $2,
			highest_bidder_id = $3,
			end_time = $4,
			bid_count = $5,
			reserve_met = $6,
			winner_id = $7,
			winning_bid = $8,
			version = $9,
			updated_at = $10
		WHERE id = $11 AND version = $12
	`
	result, err := tx.Exec(ctx, query,
		a.Status,
		a.CurrentBid,
		a.HighestBidderID,
		a.EndTime,
		a.BidCount,
		a.ReserveMet,
		a.WinnerID,
		a.WinningBid,
		a.Version,
		a.UpdatedAt,
		a.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check auction: %w", err)
	}
	if !exists {
		return auctions.ErrAuctionNotFound
	}
	return auctions.ErrConcurrentModification
}

func (s *PostgresAuctionStore) saveOutbox(ctx context.Context, tx pgx.Tx, event *pkgevents.OutboxEvent) error {
	if event == nil {
		return nil
	}
	return s.outbox.SaveEvent(ctx, tx, event)
}

func (s *PostgresAuctionStore) GetAuction(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	auction, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[auctions.Auction])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to scan auction: %w", err)
	}
	return auction, nil
}

// ListBids returns up to limit bids newest first. A limit of zero returns all.
func (s *PostgresAuctionStore) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, bid_time, is_auto_bid, seq
		FROM bids
		WHERE auction_id = $1
		ORDER BY seq DESC
		LIMIT NULLIF($2::int, 0)
	`
	rows, err := s.pool.Query(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}

	bids, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[auctions.Bid])
	if err != nil {
		return nil, fmt.Errorf("failed to scan bids: %w", err)
	}
	return bids, nil
}

func (s *PostgresAuctionStore) ListProxyBids(ctx context.Context, auctionID uuid.UUID) ([]*auctions.ProxyBid, error) {
	query := `
		SELECT auction_id, bidder_id, max_bid, seq, updated_at
		FROM proxy_bids
		WHERE auction_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy bids: %w", err)
	}

	ceilings, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[auctions.ProxyBid])
	if err != nil {
		return nil, fmt.Errorf("failed to scan proxy bids: %w", err)
	}
	return ceilings, nil
}

func (s *PostgresAuctionStore) ListOpenAuctions(ctx context.Context) ([]*auctions.Auction, error) {
	query := `SELECT ` + auctionColumns + `
		FROM auctions
		WHERE status IN ('SCHEDULED', 'ACTIVE')
		ORDER BY end_time ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open auctions: %w", err)
	}

	open, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[auctions.Auction])
	if err != nil {
		return nil, fmt.Errorf("failed to scan open auctions: %w", err)
	}
	return open, nil
}
