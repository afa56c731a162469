package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

// Bid amounts are compared at 2 decimal places so float noise cannot flip
// an accept/reject decision.
const monetaryPrecision int32 = 2

// BidStore defines persistence operations for bids.
type BidStore interface {
	Get(ctx context.Context, id int) (types.Bid, error)
	GetByUserAndPlate(ctx context.Context, userID, plateID int) (types.Bid, error)
	HighestForPlate(ctx context.Context, plateID int) (types.Bid, error)
	HighestForPlateExcluding(ctx context.Context, plateID, excludeBidID int) (types.Bid, error)
	ListByPlate(ctx context.Context, plateID int) ([]types.Bid, error)
	ListByUser(ctx context.Context, userID int) ([]types.Bid, error)
	SaveAccepted(ctx context.Context, bid types.Bid) (types.Bid, error)
	Delete(ctx context.Context, id int) error
}

// PlateReader is the subset of plate persistence the evaluator needs.
type PlateReader interface {
	Get(ctx context.Context, id int) (types.Plate, error)
}

// Broadcaster pushes highest-bid snapshots to live subscribers of a plate.
// Delivery is best-effort and must never fail the caller.
type Broadcaster interface {
	Publish(plateID int, msg types.LiveMessage)
}

// Notifier emits fire-and-forget notification events.
type Notifier interface {
	BidAccepted(ctx context.Context, plate types.Plate, bid types.Bid)
}

// BidService evaluates proposed bids and tracks the highest bid per plate.
//
// The read-compare-write sequence for one plate is serialized with a
// per-plate mutex, so two concurrent submissions cannot both accept
// against the same stale highest value. Different plates never contend.
type BidService struct {
	bids        BidStore
	plates      PlateReader
	broadcaster Broadcaster
	notifier    Notifier

	mu    sync.Mutex
	locks map[int]*plateLock
}

// plateLock is a refcounted mutex entry. Entries live in BidService.locks
// only while at least one evaluation holds or waits on them.
type plateLock struct {
	mu   sync.Mutex
	refs int
}

func NewBidService(bids BidStore, plates PlateReader, broadcaster Broadcaster, notifier Notifier) *BidService {
	return &BidService{
		bids:        bids,
		plates:      plates,
		broadcaster: broadcaster,
		notifier:    notifier,
		locks:       make(map[int]*plateLock),
	}
}

// Submit places a new bid or re-bids on behalf of userID.
//
// A repeat bid from the same user updates the existing row; the bid-row
// count for a (user, plate) pair never exceeds one. The amount must be
// strictly greater than the highest competing bid, or the plate's stored
// price when no competing bid exists. Ties are rejected.
func (s *BidService) Submit(ctx context.Context, plateID, userID int, amount float64) (types.Bid, error) {
	if !exceeds(amount, 0) {
		return types.Bid{}, ErrInvalidAmount
	}

	plate, err := s.plates.Get(ctx, plateID)
	if err != nil {
		return types.Bid{}, err
	}
	if !plate.IsBiddable(time.Now()) {
		return types.Bid{}, ErrPlateNotBiddable
	}

	lock := s.lockPlate(plateID)
	defer s.unlockPlate(plateID, lock)

	bid := types.Bid{UserID: userID, PlateID: plateID, Amount: amount}
	existing, err := s.bids.GetByUserAndPlate(ctx, userID, plateID)
	switch {
	case err == nil:
		bid.ID = existing.ID
		bid.CreatedAt = existing.CreatedAt
	case errors.Is(err, store.ErrNotFound):
		// First bid from this user on this plate.
	default:
		return types.Bid{}, err
	}

	baseline, err := s.competingHighest(ctx, plate, bid.ID)
	if err != nil {
		return types.Bid{}, err
	}
	if !exceeds(amount, baseline) {
		return types.Bid{}, &BidTooLowError{CurrentHighest: baseline}
	}

	return s.accept(ctx, plate, bid)
}

// Update changes the amount of an existing bid. The caller must own the
// bid or be staff. The monotonic rule is enforced against the highest bid
// excluding the one being updated.
func (s *BidService) Update(ctx context.Context, bidID, callerID int, amount float64, callerIsStaff bool) (types.Bid, error) {
	if !exceeds(amount, 0) {
		return types.Bid{}, ErrInvalidAmount
	}

	bid, err := s.bids.Get(ctx, bidID)
	if err != nil {
		return types.Bid{}, err
	}
	if bid.UserID != callerID && !callerIsStaff {
		return types.Bid{}, ErrForbidden
	}

	plate, err := s.plates.Get(ctx, bid.PlateID)
	if err != nil {
		return types.Bid{}, err
	}
	if !plate.IsBiddable(time.Now()) {
		return types.Bid{}, ErrPlateNotBiddable
	}

	lock := s.lockPlate(bid.PlateID)
	defer s.unlockPlate(bid.PlateID, lock)

	baseline, err := s.competingHighest(ctx, plate, bid.ID)
	if err != nil {
		return types.Bid{}, err
	}
	if !exceeds(amount, baseline) {
		return types.Bid{}, &BidTooLowError{CurrentHighest: baseline}
	}

	bid.Amount = amount
	return s.accept(ctx, plate, bid)
}

// Delete removes a bid. The caller must own it or be staff. The plate's
// stored price is not reverted to the next-highest remaining bid; this is
// a known limitation carried over from the observed behavior.
func (s *BidService) Delete(ctx context.Context, bidID, callerID int, callerIsStaff bool) error {
	bid, err := s.bids.Get(ctx, bidID)
	if err != nil {
		return err
	}
	if bid.UserID != callerID && !callerIsStaff {
		return ErrForbidden
	}
	return s.bids.Delete(ctx, bidID)
}

// Get returns a bid by ID.
func (s *BidService) Get(ctx context.Context, bidID int) (types.Bid, error) {
	return s.bids.Get(ctx, bidID)
}

// HighestFor returns the highest bid for a plate: the maximum amount,
// earliest-created on ties. store.ErrNotFound when the plate is unknown
// or has no bids.
func (s *BidService) HighestFor(ctx context.Context, plateID int) (types.Bid, error) {
	if _, err := s.plates.Get(ctx, plateID); err != nil {
		return types.Bid{}, err
	}
	return s.bids.HighestForPlate(ctx, plateID)
}

// ListByPlate returns all bids for a plate, amount-descending.
func (s *BidService) ListByPlate(ctx context.Context, plateID int) ([]types.Bid, error) {
	if _, err := s.plates.Get(ctx, plateID); err != nil {
		return nil, err
	}
	return s.bids.ListByPlate(ctx, plateID)
}

// ListByUser returns all bids placed by a user.
func (s *BidService) ListByUser(ctx context.Context, userID int) ([]types.Bid, error) {
	return s.bids.ListByUser(ctx, userID)
}

// competingHighest returns the amount a proposed bid must strictly exceed:
// the highest bid on the plate excluding the caller's own (for re-bids),
// falling back to the plate's stored price when no competing bid exists.
func (s *BidService) competingHighest(ctx context.Context, plate types.Plate, excludeBidID int) (float64, error) {
	var highest types.Bid
	var err error
	if excludeBidID == 0 {
		highest, err = s.bids.HighestForPlate(ctx, plate.ID)
	} else {
		highest, err = s.bids.HighestForPlateExcluding(ctx, plate.ID, excludeBidID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return plate.Price, nil
		}
		return 0, err
	}
	return highest.Amount, nil
}

func (s *BidService) accept(ctx context.Context, plate types.Plate, bid types.Bid) (types.Bid, error) {
	saved, err := s.bids.SaveAccepted(ctx, bid)
	if err != nil {
		return types.Bid{}, err
	}

	log.WithFields(log.Fields{
		"plate_id": plate.ID,
		"user_id":  saved.UserID,
		"amount":   saved.Amount,
	}).Info("bid accepted")

	if s.broadcaster != nil {
		s.broadcaster.Publish(plate.ID, types.LiveMessage{
			Type: types.LiveMessageHighestBid,
			Data: types.HighestBidEvent{
				Amount:    saved.Amount,
				UserID:    saved.UserID,
				Timestamp: saved.UpdatedAt,
			},
		})
	}
	if s.notifier != nil {
		s.notifier.BidAccepted(ctx, plate, saved)
	}
	return saved, nil
}

// lockPlate acquires the serialization lock for a plate, creating the
// entry on first use and counting the holder.
func (s *BidService) lockPlate(plateID int) *plateLock {
	s.mu.Lock()
	lock, ok := s.locks[plateID]
	if !ok {
		lock = &plateLock{}
		s.locks[plateID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockPlate releases the lock and drops the map entry once no
// evaluation holds or waits on it, so the table stays bounded by
// in-flight work rather than by every plate ever bid on.
func (s *BidService) unlockPlate(plateID int, lock *plateLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, plateID)
	}
	s.mu.Unlock()
}

// exceeds reports whether a is strictly greater than b at monetary
// precision.
func exceeds(a, b float64) bool {
	aDecimal := decimal.NewFromFloat(a).Round(monetaryPrecision)
	bDecimal := decimal.NewFromFloat(b).Round(monetaryPrecision)
	return aDecimal.GreaterThan(bDecimal)
}
