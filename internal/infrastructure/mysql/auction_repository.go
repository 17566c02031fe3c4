package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-bidding/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAuctionRepository stores auctions, bids, settlements and their outbox
// rows. Every commit runs in one transaction guarded by the auction's version.
type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

const auctionColumns = `id, seller_id, starting_price, current_price, reserve_price, buy_now_price,
        min_bid_increment, snipe_threshold_seconds, snipe_extension_seconds,
        start_time, end_time, original_end_time, status, approved, reserve_met,
        version, created_at, updated_at`

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.StartingPrice, auction.CurrentPrice,
		auction.ReservePrice, auction.BuyNowPrice, auction.MinBidIncrement,
		int64(auction.SnipeThreshold/time.Second), int64(auction.SnipeExtension/time.Second),
		auction.StartTime, auction.EndTime, auction.OriginalEndTime,
		int(auction.Status), auction.Approved, auction.ReserveMet,
		auction.Version, auction.CreatedAt, auction.UpdatedAt)
	return err
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	var (
		auction                   domain.Auction
		status                    int
		thresholdSecs, extendSecs int64
	)
	err := r.db.QueryRowContext(ctx, query, auctionID).Scan(
		&auction.ID, &auction.SellerID, &auction.StartingPrice, &auction.CurrentPrice,
		&auction.ReservePrice, &auction.BuyNowPrice, &auction.MinBidIncrement,
		&thresholdSecs, &extendSecs,
		&auction.StartTime, &auction.EndTime, &auction.OriginalEndTime,
		&status, &auction.Approved, &auction.ReserveMet,
		&auction.Version, &auction.CreatedAt, &auction.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	auction.SnipeThreshold = time.Duration(thresholdSecs) * time.Second
	auction.SnipeExtension = time.Duration(extendSecs) * time.Second
	return &auction, nil
}

// UpdateAuctionStatus is a compare-and-swap on status. A row that exists but is
// no longer in from reports ErrConflict.
func (r *MySQLAuctionRepository) UpdateAuctionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) error {
	query := `UPDATE auctions SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, int(to), time.Now(), auctionID, int(from))
	if err != nil {
		return err
	}
	return r.requireRow(ctx, res, auctionID)
}

func (r *MySQLAuctionRepository) SetApproved(ctx context.Context, auctionID string, approved bool) error {
	query := `UPDATE auctions SET approved = ?, version = version + 1, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, approved, time.Now(), auctionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// requireRow turns a zero-row update into ErrNotFound or ErrConflict.
func (r *MySQLAuctionRepository) requireRow(ctx context.Context, res sql.Result, auctionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM auctions WHERE id = ?`, auctionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *MySQLAuctionRepository) CommitBid(ctx context.Context, c *domain.BidCommit) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
            UPDATE auctions
            SET current_price = ?, end_time = ?, original_end_time = ?, reserve_met = ?,
                version = version + 1, updated_at = ?
            WHERE id = ? AND version = ? AND status = ?
        `
		res, err := tx.ExecContext(ctx, query,
			c.CurrentPrice, c.EndTime, c.OriginalEndTime, c.ReserveMet, c.UpdatedAt,
			c.AuctionID, c.ExpectedVersion, int(domain.AuctionActive))
		if err != nil {
			return err
		}
		if err := casApplied(res); err != nil {
			return err
		}

		if err := demoteWinningBids(ctx, tx, c.AuctionID); err != nil {
			return err
		}
		for _, b := range c.Bids {
			if err := insertBid(ctx, tx, b); err != nil {
				return err
			}
		}
		return insertOutboxEvents(ctx, tx, c.Events)
	})
}

func (r *MySQLAuctionRepository) UpdateMaxBid(ctx context.Context, c *domain.MaxBidCommit) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
            UPDATE auctions SET version = version + 1, updated_at = ?
            WHERE id = ? AND version = ? AND status = ?
        `
		res, err := tx.ExecContext(ctx, query, c.UpdatedAt, c.AuctionID, c.ExpectedVersion, int(domain.AuctionActive))
		if err != nil {
			return err
		}
		if err := casApplied(res); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE bids SET max_bid = ? WHERE id = ? AND auction_id = ? AND is_winning = TRUE`,
			c.MaxBid, c.BidID, c.AuctionID)
		if err != nil {
			return err
		}
		return casApplied(res)
	})
}

func (r *MySQLAuctionRepository) CommitSettlement(ctx context.Context, c *domain.SettlementCommit) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
            UPDATE auctions SET status = ?, reserve_met = ?, version = version + 1, updated_at = ?
            WHERE id = ? AND version = ? AND status = ?
        `
		res, err := tx.ExecContext(ctx, query,
			int(domain.AuctionEnded), c.ReserveMet, c.UpdatedAt,
			c.AuctionID, c.ExpectedVersion, int(domain.AuctionActive))
		if err != nil {
			return err
		}
		if err := casApplied(res); err != nil {
			return err
		}

		s := c.Settlement
		winner := sql.NullString{String: s.WinnerID, Valid: s.WinnerID != ""}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO settlements (id, auction_id, winner_id, final_price, commission, outcome, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
        `, s.ID, s.AuctionID, winner, s.FinalPrice, s.Commission, string(s.Outcome), s.CreatedAt)
		if isDuplicateKey(err) {
			return domain.ErrConflict
		}
		if err != nil {
			return err
		}
		return insertOutboxEvents(ctx, tx, c.Events)
	})
}

func (r *MySQLAuctionRepository) GetSettlement(ctx context.Context, auctionID string) (*domain.SettlementRecord, error) {
	query := `
        SELECT id, auction_id, winner_id, final_price, commission, outcome, created_at
        FROM settlements WHERE auction_id = ?
    `
	var (
		s       domain.SettlementRecord
		winner  sql.NullString
		outcome string
	)
	err := r.db.QueryRowContext(ctx, query, auctionID).Scan(
		&s.ID, &s.AuctionID, &winner, &s.FinalPrice, &s.Commission, &outcome, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.WinnerID = winner.String
	s.Outcome = domain.SettlementOutcome(outcome)
	return &s, nil
}

func (r *MySQLAuctionRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// casApplied maps a zero-row guarded update to ErrConflict.
func casApplied(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}
