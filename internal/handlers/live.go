package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/plateauction/apiserver/internal/hub"
	"github.com/plateauction/apiserver/internal/services"
	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

// LiveHandler upgrades authenticated requests to websocket subscriptions
// for per-plate highest-bid updates.
type LiveHandler struct {
	hub          *hub.Hub
	bidService   *services.BidService
	plateService *services.PlateService
	secret       []byte

	upgrader websocket.Upgrader
}

// NewLiveHandler constructs a LiveHandler with the provided dependencies.
func NewLiveHandler(h *hub.Hub, bidService *services.BidService, plateService *services.PlateService, jwtSecret string) *LiveHandler {
	return &LiveHandler{
		hub:          h,
		bidService:   bidService,
		plateService: plateService,
		secret:       []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// LiveRouter registers websocket routes on the given router.
func LiveRouter(r chi.Router, h *hub.Hub, bidService *services.BidService, plateService *services.PlateService, jwtSecret string) {
	handler := NewLiveHandler(h, bidService, plateService, jwtSecret)

	r.Get("/plates/{plateID}/bids", handler.Watch)
	r.Get("/plates/{plateID}/stats", handler.Stats)
}

// Watch subscribes the caller to live highest-bid updates for a plate.
// Authentication and plate existence are checked before the upgrade so
// failures are plain HTTP errors, not websocket close frames. Right after
// subscribing, the current highest bid (if any) is sent as a snapshot.
func (h *LiveHandler) Watch(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	plateID, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.plateService.Get(r.Context(), plateID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch plate")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// Subscribe before querying the snapshot. A bid accepted while the
	// query runs is then broadcast to this client instead of falling into
	// the gap between snapshot and subscription.
	client := h.hub.Subscribe(plateID, conn)

	highest, err := h.bidService.HighestFor(r.Context(), plateID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("plate_id", plateID).Warn("failed to fetch highest bid snapshot")
		}
		return
	}
	h.hub.SendTo(client, types.LiveMessage{
		Type: types.LiveMessageHighestBid,
		Data: types.HighestBidEvent{
			Amount:    highest.Amount,
			UserID:    highest.UserID,
			Timestamp: highest.UpdatedAt,
		},
	})
}

// Stats reports the number of live viewers of a plate.
func (h *LiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	plateID, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"subscribers": h.hub.SubscriberCount(plateID)})
}

// authenticate accepts the JWT either as a `token` query parameter, which
// browser websocket clients need since they cannot set headers, or as a
// standard bearer header.
func (h *LiveHandler) authenticate(r *http.Request) (string, error) {
	tokenString := strings.TrimSpace(r.URL.Query().Get("token"))
	if tokenString == "" {
		var err error
		tokenString, err = bearerToken(r)
		if err != nil {
			return "", err
		}
	}
	return parseTokenSubject(tokenString, h.secret)
}
