package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/plateauction/apiserver/internal/storage"
	"github.com/plateauction/apiserver/types"
)

// PlateRepository defines persistence operations for plates.
type PlateRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Plate, int, error)
	Get(ctx context.Context, id int) (types.Plate, error)
	GetByNumber(ctx context.Context, plateNumber string) (types.Plate, error)
	Create(ctx context.Context, plate types.Plate) (types.Plate, error)
	Update(ctx context.Context, plate types.Plate) (types.Plate, error)
	UpdateImageKey(ctx context.Context, id int, imageKey string) error
	Delete(ctx context.Context, id int) error
}

// ErrNoImageStorage is returned when image operations are requested but no
// object storage backend is configured.
var ErrNoImageStorage = errors.New("image storage is not configured")

// ErrNoImage is returned when a plate has no uploaded image.
var ErrNoImage = errors.New("plate has no image")

// PlateService encapsulates plate use-cases. Authorization (staff-only
// mutations) is enforced by the HTTP layer; deleting a plate cascades to
// its bids inside the repository transaction.
type PlateService struct {
	repo    PlateRepository
	objects *storage.Storage
}

func NewPlateService(repo PlateRepository, objects *storage.Storage) *PlateService {
	return &PlateService{repo: repo, objects: objects}
}

func (s *PlateService) List(ctx context.Context, offset, limit int) ([]types.Plate, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *PlateService) Get(ctx context.Context, id int) (types.Plate, error) {
	return s.repo.Get(ctx, id)
}

func (s *PlateService) GetByNumber(ctx context.Context, plateNumber string) (types.Plate, error) {
	return s.repo.GetByNumber(ctx, plateNumber)
}

func (s *PlateService) Create(ctx context.Context, plate types.Plate) (types.Plate, error) {
	plate.IsActive = true
	return s.repo.Create(ctx, plate)
}

func (s *PlateService) Update(ctx context.Context, plate types.Plate) (types.Plate, error) {
	return s.repo.Update(ctx, plate)
}

func (s *PlateService) Delete(ctx context.Context, id int) error {
	plate, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if plate.ImageKey != "" && s.objects != nil {
		// Image cleanup is best-effort; the listing itself is gone.
		_ = s.objects.Delete(ctx, plate.ImageKey)
	}
	return nil
}

// UploadImage stores a plate photo in object storage and records its key.
func (s *PlateService) UploadImage(ctx context.Context, plateID int, r io.Reader, size int64, contentType string) (types.Plate, error) {
	if s.objects == nil {
		return types.Plate{}, ErrNoImageStorage
	}

	plate, err := s.repo.Get(ctx, plateID)
	if err != nil {
		return types.Plate{}, err
	}

	key := fmt.Sprintf("plates/%d/image", plateID)
	if err := s.objects.Put(ctx, key, r, size, contentType); err != nil {
		return types.Plate{}, err
	}
	if err := s.repo.UpdateImageKey(ctx, plateID, key); err != nil {
		return types.Plate{}, err
	}

	plate.ImageKey = key
	return plate, nil
}

// OpenImage streams a plate's stored photo.
func (s *PlateService) OpenImage(ctx context.Context, plateID int) (io.ReadCloser, error) {
	if s.objects == nil {
		return nil, ErrNoImageStorage
	}
	plate, err := s.repo.Get(ctx, plateID)
	if err != nil {
		return nil, err
	}
	if plate.ImageKey == "" {
		return nil, ErrNoImage
	}
	return s.objects.Get(ctx, plate.ImageKey)
}
