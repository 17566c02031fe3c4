package mysql

import (
	"context"
	"database/sql"
	"errors"

	"marketplace-bidding/internal/domain"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

func (r *MySQLAuctionRepository) GetBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, amount, max_bid, is_winning, is_auto_bid, created_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY seq ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var bid domain.Bid
		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.MaxBid,
			&bid.IsWinning, &bid.IsAutoBid, &bid.CreatedAt)
		if err != nil {
			return nil, err
		}
		bids = append(bids, &bid)
	}

	return bids, rows.Err()
}

func demoteWinningBids(ctx context.Context, tx *sql.Tx, auctionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE bids SET is_winning = FALSE WHERE auction_id = ? AND is_winning = TRUE`, auctionID)
	return err
}

func insertBid(ctx context.Context, tx *sql.Tx, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, auction_id, bidder_id, amount, max_bid, is_winning, is_auto_bid, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := tx.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.MaxBid,
		bid.IsWinning, bid.IsAutoBid, bid.CreatedAt)
	if isDuplicateKey(err) {
		// The single-winner unique index caught a concurrent writer.
		return domain.ErrConflict
	}
	return err
}

func isDuplicateKey(err error) bool {
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
