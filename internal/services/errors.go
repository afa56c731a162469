package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for non-positive bid amounts.
	ErrInvalidAmount = errors.New("bid amount must be positive")

	// ErrPlateNotBiddable is returned when the target plate is inactive
	// or its deadline has passed.
	ErrPlateNotBiddable = errors.New("plate is not open for bidding")

	// ErrForbidden is returned when the caller neither owns the bid nor
	// has staff privileges.
	ErrForbidden = errors.New("not enough permissions")

	// ErrBidTooLow is the sentinel matched by errors.Is for rejected bids.
	ErrBidTooLow = errors.New("bid amount too low")
)

// BidTooLowError reports a rejection of a bid whose amount was not
// strictly greater than the current highest. CurrentHighest lets the
// caller retry with a higher value instead of guessing.
type BidTooLowError struct {
	CurrentHighest float64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount too low: current highest is %.2f", e.CurrentHighest)
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}
