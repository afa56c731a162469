package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plateauction/apiserver/internal/services"
	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

// BidHandler provides HTTP handlers for bid placement and queries.
type BidHandler struct {
	bidService  *services.BidService
	userService *services.UserService
}

// NewBidHandler constructs a handler with the provided services.
func NewBidHandler(bidService *services.BidService, userService *services.UserService) *BidHandler {
	return &BidHandler{
		bidService:  bidService,
		userService: userService,
	}
}

// BidRouter registers bid routes on the given router. All routes require
// authentication.
func BidRouter(
	r chi.Router,
	bidService *services.BidService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewBidHandler(bidService, userService)

	r.Use(authMiddleware)
	r.Post("/", handler.PlaceBid)
	r.Get("/", handler.ListMyBids)
	r.Route("/{bidID}", func(r chi.Router) {
		r.Get("/", handler.GetBid)
		r.Put("/", handler.UpdateBid)
		r.Delete("/", handler.DeleteBid)
	})
	r.Route("/plates/{plateID}", func(r chi.Router) {
		r.Get("/", handler.ListPlateBids)
		r.Get("/highest", handler.GetHighestBid)
	})
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	callerID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.PlateID < 1 {
		writeError(w, http.StatusBadRequest, "plate_id is required")
		return
	}

	bid, err := h.bidService.Submit(r.Context(), req.PlateID, callerID, req.Amount)
	if err != nil {
		writeBidError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bid)
}

func (h *BidHandler) ListMyBids(w http.ResponseWriter, r *http.Request) {
	callerID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bids, err := h.bidService.ListByUser(r.Context(), callerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	writeJSON(w, http.StatusOK, bids)
}

func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	id, err := parseBidID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.bidService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bid not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch bid")
		return
	}

	writeJSON(w, http.StatusOK, bid)
}

func (h *BidHandler) UpdateBid(w http.ResponseWriter, r *http.Request) {
	id, err := parseBidID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	callerID, isStaff, err := h.caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	bid, err := h.bidService.Update(r.Context(), id, callerID, req.Amount, isStaff)
	if err != nil {
		writeBidError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bid)
}

func (h *BidHandler) DeleteBid(w http.ResponseWriter, r *http.Request) {
	id, err := parseBidID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	callerID, isStaff, err := h.caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.bidService.Delete(r.Context(), id, callerID, isStaff); err != nil {
		writeBidError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BidHandler) ListPlateBids(w http.ResponseWriter, r *http.Request) {
	plateID, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bids, err := h.bidService.ListByPlate(r.Context(), plateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	writeJSON(w, http.StatusOK, bids)
}

func (h *BidHandler) GetHighestBid(w http.ResponseWriter, r *http.Request) {
	plateID, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.bidService.HighestFor(r.Context(), plateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no bids for plate")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch highest bid")
		return
	}

	writeJSON(w, http.StatusOK, types.HighestBidEvent{
		Amount:    bid.Amount,
		UserID:    bid.UserID,
		Timestamp: bid.UpdatedAt,
	})
}

// caller resolves the authenticated user and whether they are staff.
func (h *BidHandler) caller(r *http.Request) (int, bool, error) {
	callerID, err := userIDFromContext(r.Context())
	if err != nil {
		return 0, false, err
	}
	user, err := h.userService.GetByID(r.Context(), callerID)
	if err != nil {
		return 0, false, err
	}
	return callerID, user.IsStaff, nil
}

// writeBidError maps bid evaluation errors onto HTTP statuses.
func writeBidError(w http.ResponseWriter, err error) {
	var tooLow *services.BidTooLowError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be greater than zero")
	case errors.Is(err, services.ErrPlateNotBiddable):
		writeError(w, http.StatusBadRequest, "plate is not open for bidding")
	case errors.As(err, &tooLow):
		writeError(w, http.StatusBadRequest, tooLow.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to process bid")
	}
}

type PlaceBidRequest struct {
	PlateID int     `json:"plate_id"`
	Amount  float64 `json:"amount"`
}

type UpdateBidRequest struct {
	Amount float64 `json:"amount"`
}

func parseBidID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "bidID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid bid id")
	}
	return id, nil
}
