package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/plateauction/apiserver/types"
)

// PlateRepository handles persistence for plates.
type PlateRepository struct {
	db *sql.DB
}

func NewPlateRepository(db *sql.DB) *PlateRepository {
	return &PlateRepository{db: db}
}

func (r *PlateRepository) List(ctx context.Context, offset, limit int) ([]types.Plate, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM auto_plates`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, plate_number, description, price, deadline, is_active, created_by_id, image_key, created_at, updated_at
		FROM auto_plates
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	plates := make([]types.Plate, 0, limit)
	for rows.Next() {
		var plate types.Plate
		if err := rows.Scan(
			&plate.ID,
			&plate.PlateNumber,
			&plate.Description,
			&plate.Price,
			&plate.Deadline,
			&plate.IsActive,
			&plate.CreatedByID,
			&plate.ImageKey,
			&plate.CreatedAt,
			&plate.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		plates = append(plates, plate)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return plates, total, nil
}

func (r *PlateRepository) Get(ctx context.Context, id int) (types.Plate, error) {
	const query = `
		SELECT id, plate_number, description, price, deadline, is_active, created_by_id, image_key, created_at, updated_at
		FROM auto_plates
		WHERE id = $1`
	var plate types.Plate
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&plate.ID,
		&plate.PlateNumber,
		&plate.Description,
		&plate.Price,
		&plate.Deadline,
		&plate.IsActive,
		&plate.CreatedByID,
		&plate.ImageKey,
		&plate.CreatedAt,
		&plate.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Plate{}, ErrNotFound
		}
		return types.Plate{}, err
	}
	return plate, nil
}

func (r *PlateRepository) GetByNumber(ctx context.Context, plateNumber string) (types.Plate, error) {
	const query = `
		SELECT id, plate_number, description, price, deadline, is_active, created_by_id, image_key, created_at, updated_at
		FROM auto_plates
		WHERE plate_number = $1`
	var plate types.Plate
	err := r.db.QueryRowContext(ctx, query, plateNumber).Scan(
		&plate.ID,
		&plate.PlateNumber,
		&plate.Description,
		&plate.Price,
		&plate.Deadline,
		&plate.IsActive,
		&plate.CreatedByID,
		&plate.ImageKey,
		&plate.CreatedAt,
		&plate.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Plate{}, ErrNotFound
		}
		return types.Plate{}, err
	}
	return plate, nil
}

func (r *PlateRepository) Create(ctx context.Context, plate types.Plate) (types.Plate, error) {
	now := time.Now()
	plate.CreatedAt = now
	plate.UpdatedAt = now

	const query = `
		INSERT INTO auto_plates (plate_number, description, price, deadline, is_active, created_by_id, image_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		plate.PlateNumber,
		plate.Description,
		plate.Price,
		plate.Deadline,
		plate.IsActive,
		plate.CreatedByID,
		plate.ImageKey,
		plate.CreatedAt,
		plate.UpdatedAt,
	).Scan(&plate.ID); err != nil {
		return types.Plate{}, err
	}
	return plate, nil
}

// Update writes the plate's listing fields. Price is deliberately not
// part of the statement: it changes only inside the bid-acceptance
// transaction, so a stale read here can never revert an accepted bid's
// price. The current price is read back into the returned plate.
func (r *PlateRepository) Update(ctx context.Context, plate types.Plate) (types.Plate, error) {
	plate.UpdatedAt = time.Now()

	const query = `
		UPDATE auto_plates
		SET plate_number = $1,
			description = $2,
			deadline = $3,
			is_active = $4,
			image_key = $5,
			updated_at = $6
		WHERE id = $7
		RETURNING price`
	err := r.db.QueryRowContext(
		ctx,
		query,
		plate.PlateNumber,
		plate.Description,
		plate.Deadline,
		plate.IsActive,
		plate.ImageKey,
		plate.UpdatedAt,
		plate.ID,
	).Scan(&plate.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Plate{}, ErrNotFound
		}
		return types.Plate{}, err
	}
	return plate, nil
}

// UpdateImageKey stores the object key of the plate's uploaded image.
func (r *PlateRepository) UpdateImageKey(ctx context.Context, id int, imageKey string) error {
	const query = `
		UPDATE auto_plates
		SET image_key = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, imageKey, time.Now(), id)
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

// Delete removes a plate and all of its bids in one transaction.
// The cascade is explicit so behavior does not depend on storage-engine
// foreign key configuration.
func (r *PlateRepository) Delete(ctx context.Context, id int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE plate_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM auto_plates WHERE id = $1`, id)
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

	return tx.Commit()
}
