package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plateauction/apiserver/types"
)

func TestPlaceBid(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token := env.createUser(t, "bidder", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	require.Equal(t, http.StatusCreated, rec.Code)

	bid := decodeBody[types.Bid](t, rec)
	require.Equal(t, plate.ID, bid.PlateID)
	require.Equal(t, 150.0, bid.Amount)
	require.NotZero(t, bid.ID)
}

func TestPlaceBid_TooLowReportsCurrentHighest(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token1 := env.createUser(t, "bidder1", false)
	_, token2 := env.createUser(t, "bidder2", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", token1, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/bids", token2, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	require.Contains(t, resp.Error, "150.00")
}

func TestPlaceBid_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token := env.createUser(t, "bidder", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBid_UnknownPlate(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t, "bidder", false)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: 999, Amount: 150})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceBid_ExpiredPlate(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token := env.createUser(t, "bidder", false)

	plate, err := env.plates.Create(context.Background(), types.Plate{
		PlateNumber: "A001AA",
		Price:       100,
		Deadline:    time.Now().Add(-time.Minute),
		IsActive:    true,
		CreatedByID: staff.ID,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBid_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/bids", "", PlaceBidRequest{PlateID: 1, Amount: 150})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceBid_RebidKeepsOneRow(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token := env.createUser(t, "bidder", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[types.Bid](t, rec)

	rec = env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 200})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeBody[types.Bid](t, rec)

	require.Equal(t, first.ID, second.ID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/bids/plates/%d", plate.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bids := decodeBody[[]types.Bid](t, rec)
	require.Len(t, bids, 1)
}

func TestListMyBids(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token1 := env.createUser(t, "bidder1", false)
	_, token2 := env.createUser(t, "bidder2", false)
	plateA := env.createPlate(t, "A001AA", 100, staff.ID)
	plateB := env.createPlate(t, "B002BB", 100, staff.ID)

	env.do(t, http.MethodPost, "/bids", token1, PlaceBidRequest{PlateID: plateA.ID, Amount: 150})
	env.do(t, http.MethodPost, "/bids", token1, PlaceBidRequest{PlateID: plateB.ID, Amount: 150})
	env.do(t, http.MethodPost, "/bids", token2, PlaceBidRequest{PlateID: plateA.ID, Amount: 200})

	rec := env.do(t, http.MethodGet, "/bids", token1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bids := decodeBody[[]types.Bid](t, rec)
	require.Len(t, bids, 2)
}

func TestGetBid(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token := env.createUser(t, "bidder", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", token, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	bid := decodeBody[types.Bid](t, rec)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/bids/%d", bid.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[types.Bid](t, rec)
	require.Equal(t, bid.ID, got.ID)
}

func TestUpdateBid(t *testing.T) {
	env := newTestEnv(t)
	staff, staffToken := env.createUser(t, "staff", true)
	_, ownerToken := env.createUser(t, "owner", false)
	_, otherToken := env.createUser(t, "other", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", ownerToken, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	bid := decodeBody[types.Bid](t, rec)
	path := fmt.Sprintf("/bids/%d", bid.ID)

	// Non-owner is rejected.
	rec = env.do(t, http.MethodPut, path, otherToken, UpdateBidRequest{Amount: 200})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Owner raises their bid.
	rec = env.do(t, http.MethodPut, path, ownerToken, UpdateBidRequest{Amount: 200})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 200.0, decodeBody[types.Bid](t, rec).Amount)

	// Staff may adjust any bid.
	rec = env.do(t, http.MethodPut, path, staffToken, UpdateBidRequest{Amount: 250})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteBid(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, ownerToken := env.createUser(t, "owner", false)
	_, otherToken := env.createUser(t, "other", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	rec := env.do(t, http.MethodPost, "/bids", ownerToken, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	bid := decodeBody[types.Bid](t, rec)
	path := fmt.Sprintf("/bids/%d", bid.ID)

	rec = env.do(t, http.MethodDelete, path, otherToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, path, ownerToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, path, ownerToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHighestBid(t *testing.T) {
	env := newTestEnv(t)
	staff, _ := env.createUser(t, "staff", true)
	_, token1 := env.createUser(t, "bidder1", false)
	_, token2 := env.createUser(t, "bidder2", false)
	plate := env.createPlate(t, "A001AA", 100, staff.ID)

	// No bids yet.
	path := fmt.Sprintf("/bids/plates/%d/highest", plate.ID)
	rec := env.do(t, http.MethodGet, path, token1, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/bids", token1, PlaceBidRequest{PlateID: plate.ID, Amount: 150})
	env.do(t, http.MethodPost, "/bids", token2, PlaceBidRequest{PlateID: plate.ID, Amount: 200})

	rec = env.do(t, http.MethodGet, path, token1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	highest := decodeBody[types.HighestBidEvent](t, rec)
	require.Equal(t, 200.0, highest.Amount)
}

func TestListPlateBids_UnknownPlate(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t, "bidder", false)

	rec := env.do(t, http.MethodGet, "/bids/plates/999", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
