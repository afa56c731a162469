package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plateauction/apiserver/internal/services"
	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

const (
	defaultPage   = 1
	defaultLimit  = 20
	maxLimit      = 100
	maxPlateChars = 10

	maxImageBytes  = 8 << 20
	formFieldImage = "image"
)

// PlateHandler provides HTTP handlers for plates.
type PlateHandler struct {
	plateService *services.PlateService
	userService  *services.UserService
}

// NewPlateHandler constructs a handler with the provided services.
func NewPlateHandler(plateService *services.PlateService, userService *services.UserService) *PlateHandler {
	return &PlateHandler{
		plateService: plateService,
		userService:  userService,
	}
}

// PlateRouter registers plate routes on the given router. All routes
// require authentication; mutations additionally require staff.
func PlateRouter(
	r chi.Router,
	plateService *services.PlateService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewPlateHandler(plateService, userService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListPlates)
	r.With(handler.requireStaff).Post("/", handler.CreatePlate)
	r.Route("/{plateID}", func(r chi.Router) {
		r.Get("/", handler.GetPlate)
		r.With(handler.requireStaff).Put("/", handler.UpdatePlate)
		r.With(handler.requireStaff).Delete("/", handler.DeletePlate)
		r.Get("/image", handler.GetPlateImage)
		r.With(handler.requireStaff).Put("/image", handler.UploadPlateImage)
	})
}

func (h *PlateHandler) ListPlates(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.plateService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list plates")
		return
	}

	writeJSON(w, http.StatusOK, PlateListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *PlateHandler) GetPlate(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plate, err := h.plateService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch plate")
		return
	}

	writeJSON(w, http.StatusOK, plate)
}

func (h *PlateHandler) CreatePlate(w http.ResponseWriter, r *http.Request) {
	callerID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PlateUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.plateService.Create(r.Context(), types.Plate{
		PlateNumber: req.PlateNumber,
		Description: req.Description,
		Price:       req.Price,
		Deadline:    req.Deadline,
		CreatedByID: callerID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create plate")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *PlateHandler) UpdatePlate(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req PlateUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plate, err := h.plateService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch plate")
		return
	}

	plate.PlateNumber = req.PlateNumber
	plate.Description = req.Description
	plate.Deadline = req.Deadline
	if req.IsActive != nil {
		plate.IsActive = *req.IsActive
	}

	updated, err := h.plateService.Update(r.Context(), plate)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update plate")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PlateHandler) DeletePlate(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.plateService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete plate")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PlateHandler) UploadPlateImage(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	if header.Size > maxImageBytes {
		writeError(w, http.StatusBadRequest, "image too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	plate, err := h.plateService.UploadImage(r.Context(), id, file, header.Size, contentType)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "plate not found")
		case errors.Is(err, services.ErrNoImageStorage):
			writeError(w, http.StatusNotImplemented, "image storage is not configured")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store image")
		}
		return
	}

	writeJSON(w, http.StatusOK, plate)
}

func (h *PlateHandler) GetPlateImage(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlateID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, err := h.plateService.OpenImage(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrNoImage):
			writeError(w, http.StatusNotFound, "image not found")
		case errors.Is(err, services.ErrNoImageStorage):
			writeError(w, http.StatusNotImplemented, "image storage is not configured")
		default:
			writeError(w, http.StatusInternalServerError, "failed to fetch image")
		}
		return
	}
	defer reader.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// PlateUpsertRequest is the JSON payload for plate create/update.
type PlateUpsertRequest struct {
	PlateNumber string    `json:"plate_number"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Deadline    time.Time `json:"deadline"`
	IsActive    *bool     `json:"is_active"`
}

func (r *PlateUpsertRequest) validate() error {
	r.PlateNumber = strings.TrimSpace(r.PlateNumber)
	if r.PlateNumber == "" {
		return errors.New("plate_number is required")
	}
	if len(r.PlateNumber) > maxPlateChars {
		return errors.New("plate_number is too long")
	}
	if r.Price < 0 {
		return errors.New("price must not be negative")
	}
	if r.Deadline.IsZero() {
		return errors.New("deadline is required")
	}
	return nil
}

// PlateListResponse is the paginated list response payload.
type PlateListResponse struct {
	Items []types.Plate `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parsePlateID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "plateID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid plate id")
	}
	return id, nil
}

func (h *PlateHandler) requireStaff(next http.Handler) http.Handler {
	return requireStaff(h.userService, next)
}

func requireStaff(userService *services.UserService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := userService.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		if !user.IsStaff {
			writeError(w, http.StatusForbidden, "staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
