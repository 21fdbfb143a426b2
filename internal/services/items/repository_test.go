package items

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(p float64) *float64 { return &p }

func TestMemoryRepository_CRUD(t *testing.T) {
	repo := NewRepository(nil)
	ctx := context.Background()

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	desc := "bomba"
	a, err := repo.Create(ctx, Input{Name: "A", Description: &desc, Price: price(10)})
	require.NoError(t, err)
	b, err := repo.Create(ctx, Input{Name: "B", Price: price(5.5)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.ID)
	assert.EqualValues(t, 2, b.ID)

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bomba", *got.Description)

	upd, err := repo.Update(ctx, 2, Input{Name: "B2", Price: price(7)})
	require.NoError(t, err)
	assert.Equal(t, "B2", upd.Name)
	assert.Nil(t, upd.Description)

	require.NoError(t, repo.Delete(ctx, 1))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].ID)

	c, err := repo.Create(ctx, Input{Name: "C", Price: price(1)})
	require.NoError(t, err)
	assert.EqualValues(t, 3, c.ID, "ids are never reused")
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, 9, Input{Name: "x", Price: price(1)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 9), ErrNotFound)
}

func TestMemoryRepository_ListIsACopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.Create(ctx, Input{Name: "A", Price: price(1)})
	require.NoError(t, err)

	list, _ := repo.List(ctx)
	list[0].Name = "mutated"

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}
