// Package items serves the sample item catalogue, backed by MySQL when the
// database is enabled and by process memory otherwise.
package items

import (
	"context"
	"errors"
	"sync"

	"chroma-rag/internal/database"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("item not found")

// Input is the writable part of an item.
type Input struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price" validate:"required"`
}

type Repository interface {
	List(ctx context.Context) ([]database.Item, error)
	Get(ctx context.Context, id int64) (*database.Item, error)
	Create(ctx context.Context, in Input) (*database.Item, error)
	Update(ctx context.Context, id int64, in Input) (*database.Item, error)
	Delete(ctx context.Context, id int64) error
}

// NewRepository picks the gorm repository when db is set.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return NewMemoryRepository()
	}
	return &gormRepository{db: db}
}

type gormRepository struct {
	db *gorm.DB
}

func (r *gormRepository) List(ctx context.Context) ([]database.Item, error) {
	return database.ListEntities[database.Item](ctx, r.db)
}

func (r *gormRepository) Get(ctx context.Context, id int64) (*database.Item, error) {
	it, err := database.GetEntityByID[database.Item](ctx, r.db, id)
	return it, notFound(err)
}

func (r *gormRepository) Create(ctx context.Context, in Input) (*database.Item, error) {
	it := &database.Item{Name: in.Name, Description: in.Description, Price: *in.Price}
	if err := database.CreateEntity(ctx, r.db, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (r *gormRepository) Update(ctx context.Context, id int64, in Input) (*database.Item, error) {
	err := database.UpdateEntityByID[database.Item](ctx, r.db, id, map[string]interface{}{
		"name":        in.Name,
		"description": in.Description,
		"price":       *in.Price,
	})
	if err != nil {
		return nil, notFound(err)
	}
	return r.Get(ctx, id)
}

func (r *gormRepository) Delete(ctx context.Context, id int64) error {
	return notFound(database.DeleteEntityByID[database.Item](ctx, r.db, id))
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// MemoryRepository keeps items in insertion order with increasing ids.
type MemoryRepository struct {
	mu     sync.RWMutex
	items  []database.Item
	nextID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

func (r *MemoryRepository) List(context.Context) ([]database.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]database.Item{}, r.items...), nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (*database.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it.ID == id {
			out := it
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Create(_ context.Context, in Input) (*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := database.Item{ID: r.nextID, Name: in.Name, Description: in.Description, Price: *in.Price}
	r.nextID++
	r.items = append(r.items, it)
	return &it, nil
}

func (r *MemoryRepository) Update(_ context.Context, id int64, in Input) (*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i] = database.Item{ID: id, Name: in.Name, Description: in.Description, Price: *in.Price}
			out := r.items[i]
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
