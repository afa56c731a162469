package types

import "time"

// Bid represents a user's monetary offer on a plate.
//
// At most one Bid row exists per (user, plate) pair: a repeat bid from the
// same user updates the existing row in place. An accepted bid's amount is
// strictly greater than the previously recorded highest amount for the
// plate at acceptance time.
type Bid struct {
	// ID is the unique identifier of the bid.
	ID int `json:"id" db:"id"`

	// UserID identifies the bidder.
	UserID int `json:"user_id" db:"user_id"`

	// PlateID identifies the plate the bid targets.
	PlateID int `json:"plate_id" db:"plate_id"`

	// Amount is the offered price. Always positive.
	Amount float64 `json:"amount" db:"amount"`

	// CreatedAt is the timestamp when the bid was first placed.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent re-bid.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HighestBidEvent is the snapshot pushed to live subscribers of a plate
// whenever a bid is accepted, and once on connect when a highest bid exists.
type HighestBidEvent struct {
	Amount    float64   `json:"amount"`
	UserID    int       `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveMessage is the wire envelope for live-channel messages.
type LiveMessage struct {
	Type string          `json:"type"`
	Data HighestBidEvent `json:"data"`
}

// LiveMessageHighestBid is the message type for highest-bid snapshots.
const LiveMessageHighestBid = "highest_bid"
