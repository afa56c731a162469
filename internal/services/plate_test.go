package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

// The remaining PlateRepository methods for fakePlateStore, mirroring the
// SQL repository's semantics.

func (f *fakePlateStore) List(_ context.Context, offset, limit int) ([]types.Plate, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]types.Plate, 0, len(f.plates))
	for _, plate := range f.plates {
		all = append(all, plate)
	}
	total := len(all)
	if offset >= total {
		return []types.Plate{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (f *fakePlateStore) GetByNumber(_ context.Context, plateNumber string) (types.Plate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, plate := range f.plates {
		if plate.PlateNumber == plateNumber {
			return plate, nil
		}
	}
	return types.Plate{}, store.ErrNotFound
}

func (f *fakePlateStore) Create(_ context.Context, plate types.Plate) (types.Plate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plate.ID = len(f.plates) + 1
	now := time.Now()
	plate.CreatedAt = now
	plate.UpdatedAt = now
	f.plates[plate.ID] = plate
	return plate, nil
}

// Update, like the SQL repository, never writes price: it changes only
// through SaveAccepted.
func (f *fakePlateStore) Update(_ context.Context, plate types.Plate) (types.Plate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.plates[plate.ID]
	if !ok {
		return types.Plate{}, store.ErrNotFound
	}
	plate.Price = current.Price
	plate.CreatedAt = current.CreatedAt
	plate.CreatedByID = current.CreatedByID
	plate.UpdatedAt = time.Now()
	f.plates[plate.ID] = plate
	return plate, nil
}

func (f *fakePlateStore) UpdateImageKey(_ context.Context, id int, imageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	plate, ok := f.plates[id]
	if !ok {
		return store.ErrNotFound
	}
	plate.ImageKey = imageKey
	f.plates[id] = plate
	return nil
}

func (f *fakePlateStore) Delete(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plates[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.plates, id)
	return nil
}

func TestPlateService_UpdatePreservesBidPrice(t *testing.T) {
	// A staff edit reads the plate, a bid is accepted before the edit is
	// written back, and the stale read must not revert the price.
	ctx := context.Background()
	plateStore := newFakePlateStore(activePlate(1, 100))
	bids := NewBidService(newFakeBidStore(plateStore), plateStore, nil, nil)
	plates := NewPlateService(plateStore, nil)

	stale, err := plates.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 100.0, stale.Price)

	_, err = bids.Submit(ctx, 1, 7, 150)
	require.NoError(t, err)

	stale.Description = "relisted with photos"
	updated, err := plates.Update(ctx, stale)
	require.NoError(t, err)

	require.Equal(t, "relisted with photos", updated.Description)
	require.Equal(t, 150.0, updated.Price)
	require.Equal(t, 150.0, plateStore.price(1))

	highest, err := bids.HighestFor(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 150.0, highest.Amount)
}

func TestPlateService_UpdateUnknownPlate(t *testing.T) {
	plates := NewPlateService(newFakePlateStore(), nil)
	_, err := plates.Update(context.Background(), activePlate(9, 100))
	require.ErrorIs(t, err, store.ErrNotFound)
}
