package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/plateauction/apiserver/types"
)

// BidRepository handles persistence for bids.
type BidRepository struct {
	db *sql.DB
}

func NewBidRepository(db *sql.DB) *BidRepository {
	return &BidRepository{db: db}
}

func (r *BidRepository) Get(ctx context.Context, id int) (types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByUserAndPlate returns the caller's existing bid on a plate, if any.
// At most one row can match because of the unique (user_id, plate_id)
// constraint.
func (r *BidRepository) GetByUserAndPlate(ctx context.Context, userID, plateID int) (types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE user_id = $1 AND plate_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, plateID))
}

// HighestForPlate returns the bid with the maximum amount for a plate.
// Ties are broken by earliest creation timestamp. The query is served by
// the (plate_id, amount DESC) index rather than a table scan.
func (r *BidRepository) HighestForPlate(ctx context.Context, plateID int) (types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE plate_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, plateID))
}

// HighestForPlateExcluding is HighestForPlate without the named bid,
// used when re-bidding so the caller's own prior bid does not compete
// against the new amount.
func (r *BidRepository) HighestForPlateExcluding(ctx context.Context, plateID, excludeBidID int) (types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE plate_id = $1 AND id <> $2
		ORDER BY amount DESC, created_at ASC
		LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, plateID, excludeBidID))
}

func (r *BidRepository) ListByPlate(ctx context.Context, plateID int) ([]types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE plate_id = $1
		ORDER BY amount DESC, created_at ASC`
	return r.list(ctx, query, plateID)
}

func (r *BidRepository) ListByUser(ctx context.Context, userID int) ([]types.Bid, error) {
	const query = `
		SELECT id, user_id, plate_id, amount, created_at, updated_at
		FROM bids
		WHERE user_id = $1
		ORDER BY updated_at DESC`
	return r.list(ctx, query, userID)
}

// SaveAccepted persists an accepted bid and the plate's new price in a
// single transaction. A bid with ID zero is inserted; otherwise the
// existing row is updated in place. Both writes commit or both roll back
// so the plate price never disagrees with the recorded bids.
func (r *BidRepository) SaveAccepted(ctx context.Context, bid types.Bid) (types.Bid, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Bid{}, err
	}
	defer tx.Rollback()

	now := time.Now()
	bid.UpdatedAt = now

	if bid.ID == 0 {
		bid.CreatedAt = now
		const insertQuery = `
			INSERT INTO bids (user_id, plate_id, amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		if err := tx.QueryRowContext(
			ctx,
			insertQuery,
			bid.UserID,
			bid.PlateID,
			bid.Amount,
			bid.CreatedAt,
			bid.UpdatedAt,
		).Scan(&bid.ID); err != nil {
			return types.Bid{}, err
		}
	} else {
		const updateQuery = `
			UPDATE bids
			SET amount = $1, updated_at = $2
			WHERE id = $3`
		result, err := tx.ExecContext(ctx, updateQuery, bid.Amount, bid.UpdatedAt, bid.ID)
		if err != nil {
			return types.Bid{}, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return types.Bid{}, err
		}
		if affected == 0 {
			return types.Bid{}, ErrNotFound
		}
	}

	const priceQuery = `
		UPDATE auto_plates
		SET price = $1, updated_at = $2
		WHERE id = $3`
	result, err := tx.ExecContext(ctx, priceQuery, bid.Amount, now, bid.PlateID)
	if err != nil {
		return types.Bid{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Bid{}, err
	}
	if affected == 0 {
		return types.Bid{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return types.Bid{}, err
	}
	return bid, nil
}

// Delete removes a bid. The plate's stored price is not recomputed.
func (r *BidRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM bids WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *BidRepository) scanOne(row *sql.Row) (types.Bid, error) {
	var bid types.Bid
	err := row.Scan(
		&bid.ID,
		&bid.UserID,
		&bid.PlateID,
		&bid.Amount,
		&bid.CreatedAt,
		&bid.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Bid{}, ErrNotFound
		}
		return types.Bid{}, err
	}
	return bid, nil
}

func (r *BidRepository) list(ctx context.Context, query string, arg any) ([]types.Bid, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		if err := rows.Scan(
			&bid.ID,
			&bid.UserID,
			&bid.PlateID,
			&bid.Amount,
			&bid.CreatedAt,
			&bid.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}
