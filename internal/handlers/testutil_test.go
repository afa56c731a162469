package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/plateauction/apiserver/internal/hub"
	"github.com/plateauction/apiserver/internal/services"
	"github.com/plateauction/apiserver/internal/store"
	"github.com/plateauction/apiserver/types"
)

const testSecret = "test-secret"

// In-memory repositories backing handler tests. They mirror the SQL
// repositories' semantics, including the plate price update on accepted
// bids and ErrNotFound sentinels.

type memUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{nextID: 1, users: make(map[int]types.User)}
}

func (m *memUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memUserRepo) GetByUsername(_ context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = m.nextID
	m.nextID++
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserRepo) Update(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserRepo) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type memPlateRepo struct {
	mu     sync.Mutex
	nextID int
	plates map[int]types.Plate
}

func newMemPlateRepo() *memPlateRepo {
	return &memPlateRepo{nextID: 1, plates: make(map[int]types.Plate)}
}

func (m *memPlateRepo) List(_ context.Context, offset, limit int) ([]types.Plate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]types.Plate, 0, len(m.plates))
	for id := 1; id < m.nextID; id++ {
		if plate, ok := m.plates[id]; ok {
			all = append(all, plate)
		}
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

func (m *memPlateRepo) Get(_ context.Context, id int) (types.Plate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plate, ok := m.plates[id]
	if !ok {
		return types.Plate{}, store.ErrNotFound
	}
	return plate, nil
}

func (m *memPlateRepo) GetByNumber(_ context.Context, plateNumber string) (types.Plate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, plate := range m.plates {
		if plate.PlateNumber == plateNumber {
			return plate, nil
		}
	}
	return types.Plate{}, store.ErrNotFound
}

func (m *memPlateRepo) Create(_ context.Context, plate types.Plate) (types.Plate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plate.ID = m.nextID
	m.nextID++
	now := time.Now()
	plate.CreatedAt = now
	plate.UpdatedAt = now
	m.plates[plate.ID] = plate
	return plate, nil
}

// Update mirrors the SQL repository: price is never written here, it
// changes only through SaveAccepted.
func (m *memPlateRepo) Update(_ context.Context, plate types.Plate) (types.Plate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.plates[plate.ID]
	if !ok {
		return types.Plate{}, store.ErrNotFound
	}
	plate.Price = current.Price
	plate.UpdatedAt = time.Now()
	m.plates[plate.ID] = plate
	return plate, nil
}

func (m *memPlateRepo) UpdateImageKey(_ context.Context, id int, imageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plate, ok := m.plates[id]
	if !ok {
		return store.ErrNotFound
	}
	plate.ImageKey = imageKey
	m.plates[id] = plate
	return nil
}

func (m *memPlateRepo) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plates[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.plates, id)
	return nil
}

func (m *memPlateRepo) setPrice(id int, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plate, ok := m.plates[id]
	if !ok {
		return store.ErrNotFound
	}
	plate.Price = price
	m.plates[id] = plate
	return nil
}

type memBidRepo struct {
	mu     sync.Mutex
	nextID int
	bids   map[int]types.Bid
	plates *memPlateRepo
}

func newMemBidRepo(plates *memPlateRepo) *memBidRepo {
	return &memBidRepo{nextID: 1, bids: make(map[int]types.Bid), plates: plates}
}

func (m *memBidRepo) Get(_ context.Context, id int) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[id]
	if !ok {
		return types.Bid{}, store.ErrNotFound
	}
	return bid, nil
}

func (m *memBidRepo) GetByUserAndPlate(_ context.Context, userID, plateID int) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bid := range m.bids {
		if bid.UserID == userID && bid.PlateID == plateID {
			return bid, nil
		}
	}
	return types.Bid{}, store.ErrNotFound
}

func (m *memBidRepo) HighestForPlate(_ context.Context, plateID int) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highestLocked(plateID, 0)
}

func (m *memBidRepo) HighestForPlateExcluding(_ context.Context, plateID, excludeBidID int) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highestLocked(plateID, excludeBidID)
}

func (m *memBidRepo) highestLocked(plateID, excludeBidID int) (types.Bid, error) {
	var best types.Bid
	found := false
	for _, bid := range m.bids {
		if bid.PlateID != plateID || bid.ID == excludeBidID {
			continue
		}
		if !found || bid.Amount > best.Amount ||
			(bid.Amount == best.Amount && bid.CreatedAt.Before(best.CreatedAt)) {
			best = bid
			found = true
		}
	}
	if !found {
		return types.Bid{}, store.ErrNotFound
	}
	return best, nil
}

func (m *memBidRepo) ListByPlate(_ context.Context, plateID int) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Bid
	for _, bid := range m.bids {
		if bid.PlateID == plateID {
			out = append(out, bid)
		}
	}
	return out, nil
}

func (m *memBidRepo) ListByUser(_ context.Context, userID int) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Bid
	for _, bid := range m.bids {
		if bid.UserID == userID {
			out = append(out, bid)
		}
	}
	return out, nil
}

func (m *memBidRepo) SaveAccepted(_ context.Context, bid types.Bid) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	bid.UpdatedAt = now
	if bid.ID == 0 {
		bid.ID = m.nextID
		m.nextID++
		bid.CreatedAt = now
	} else if _, ok := m.bids[bid.ID]; !ok {
		return types.Bid{}, store.ErrNotFound
	}
	m.bids[bid.ID] = bid

	if err := m.plates.setPrice(bid.PlateID, bid.Amount); err != nil {
		return types.Bid{}, err
	}
	return bid, nil
}

func (m *memBidRepo) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bids[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.bids, id)
	return nil
}

// testEnv wires the full router the way the server does, over in-memory
// repositories.
type testEnv struct {
	router *chi.Mux
	users  *memUserRepo
	plates *memPlateRepo
	bids   *memBidRepo
	hub    *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	userRepo := newMemUserRepo()
	plateRepo := newMemPlateRepo()
	bidRepo := newMemBidRepo(plateRepo)

	liveHub := hub.New()
	userService := services.NewUserService(userRepo)
	plateService := services.NewPlateService(plateRepo, nil)
	bidService := services.NewBidService(bidRepo, plateRepo, liveHub, nil)

	authMiddleware := RequireAuth(testSecret)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userService, nil, testSecret)
	})
	router.Route("/plates", func(r chi.Router) {
		PlateRouter(r, plateService, userService, authMiddleware)
	})
	router.Route("/bids", func(r chi.Router) {
		BidRouter(r, bidService, userService, authMiddleware)
	})
	router.Route("/ws", func(r chi.Router) {
		LiveRouter(r, liveHub, bidService, plateService, testSecret)
	})

	return &testEnv{
		router: router,
		users:  userRepo,
		plates: plateRepo,
		bids:   bidRepo,
		hub:    liveHub,
	}
}

// createUser seeds a user and returns it with a valid bearer token.
func (e *testEnv) createUser(t *testing.T, username string, isStaff bool) (types.User, string) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := e.users.Create(context.Background(), types.User{
		Username:     username,
		Email:        username + "@example.com",
		IsStaff:      isStaff,
		PasswordHash: string(hashed),
	})
	require.NoError(t, err)

	token, err := issueToken(user.ID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return user, token
}

// createPlate seeds an active plate open for bidding.
func (e *testEnv) createPlate(t *testing.T, plateNumber string, price float64, createdBy int) types.Plate {
	t.Helper()

	plate, err := e.plates.Create(context.Background(), types.Plate{
		PlateNumber: plateNumber,
		Price:       price,
		Deadline:    time.Now().Add(time.Hour),
		IsActive:    true,
		CreatedByID: createdBy,
	})
	require.NoError(t, err)
	return plate
}

// do runs a request against the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}
