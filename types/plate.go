package types

import "time"

// Plate represents a license plate listed for auction.
// Its price always reflects the amount of the current highest accepted
// bid, or the floor price set at creation when no bids exist yet.
type Plate struct {
	// ID is the unique identifier of the plate.
	ID int `json:"id" db:"id"`

	// PlateNumber is the unique registration string being auctioned,
	// at most 10 characters.
	PlateNumber string `json:"plate_number" db:"plate_number"`

	// Description contains the seller-provided listing text.
	Description string `json:"description" db:"description"`

	// Price is the current price of the plate. It equals the amount of
	// the highest accepted bid, or the floor price when no bids exist.
	Price float64 `json:"price" db:"price"`

	// Deadline is the instant after which no further bids are accepted.
	Deadline time.Time `json:"deadline" db:"deadline"`

	// IsActive indicates whether the listing accepts bids. A plate is
	// biddable only while IsActive is true and the deadline has not passed.
	IsActive bool `json:"is_active" db:"is_active"`

	// CreatedByID identifies the staff user who created the listing.
	CreatedByID int `json:"created_by_id" db:"created_by_id"`

	// ImageKey is the object-storage key of the plate's photo.
	// Empty when no image has been uploaded.
	ImageKey string `json:"image_key,omitempty" db:"image_key"`

	// CreatedAt is the timestamp at which the plate was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the plate.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsBiddable reports whether the plate accepts bids at the given instant.
func (p Plate) IsBiddable(now time.Time) bool {
	return p.IsActive && now.Before(p.Deadline)
}
