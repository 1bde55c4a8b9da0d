package store

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testutil"
)

func TestAddItemIncrementsExistingLine(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "10.00", 50)

	var lineID int64
	for _, q := range []int{2, 3, 1} {
		line, err := s.Carts.AddItem(ctx, user.ID, product.ID, q)
		require.NoError(t, err)
		if lineID == 0 {
			lineID = line.ID
		}
		assert.Equal(t, lineID, line.ID, "repeated adds must reuse the line")
	}

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 6, items[0].Quantity)
	assert.Equal(t, 1, testutil.Count(t, db, "cart", "users_id = $1", user.ID))
}

func TestAddItemClampsQuantity(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "3.50", 5)

	line, err := s.Carts.AddItem(ctx, user.ID, product.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)

	line, err = s.Carts.AddItem(ctx, user.ID, product.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
}

func TestAddItemValidation(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)

	_, err := s.Carts.AddItem(ctx, 0, 1, 1)
	assert.ErrorIs(t, err, database.ErrValidation)

	_, err = s.Carts.AddItem(ctx, user.ID, -1, 1)
	assert.ErrorIs(t, err, database.ErrValidation)

	_, err = s.Carts.AddItem(ctx, user.ID, 999999, 1)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestConcurrentAddItem(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "1.00", 100)

	concurrency := 10
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Carts.AddItem(ctx, user.ID, product.ID, 1)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, concurrency, items[0].Quantity)
	assert.Equal(t, 1, testutil.Count(t, db, "cart", "users_id = $1", user.ID))
}

func TestListItemsJoinsLivePrice(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	a := newProduct(t, s, "10.00", 10)
	b := newProduct(t, s, "5.00", 10)

	empty, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.Carts.AddItem(ctx, user.ID, a.ID, 2)
	require.NoError(t, err)
	_, err = s.Carts.AddItem(ctx, user.ID, b.ID, 1)
	require.NoError(t, err)

	require.NoError(t, s.Products.UpdatePrice(ctx, a.ID, decimal.RequireFromString("12.00")))

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, a.ID, items[0].ProductID)
	assert.Equal(t, a.Name, items[0].ProductName)
	assert.Equal(t, a.Image, items[0].Image)
	assert.Equal(t, "12.00", items[0].Price.StringFixed(2))
	assert.Equal(t, b.ID, items[1].ProductID)
}

func TestUpdateQuantity(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	other := newUser(t, s)
	product := newProduct(t, s, "2.00", 10)

	line, err := s.Carts.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)

	require.NoError(t, s.Carts.UpdateQuantity(ctx, user.ID, line.ID, 3))
	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)

	err = s.Carts.UpdateQuantity(ctx, other.ID, line.ID, 5)
	assert.ErrorIs(t, err, database.ErrCartLineNotFound)

	err = s.Carts.UpdateQuantity(ctx, user.ID, 999999, 5)
	assert.ErrorIs(t, err, database.ErrNotFound)

	err = s.Carts.UpdateQuantity(ctx, user.ID, 0, 5)
	assert.ErrorIs(t, err, database.ErrValidation)
}

func TestUpdateQuantityDeletesOnZeroOrNegative(t *testing.T) {
	for _, qty := range []int{0, -1} {
		s, _ := setupStore(t)
		ctx := context.Background()

		user := newUser(t, s)
		product := newProduct(t, s, "2.00", 10)

		line, err := s.Carts.AddItem(ctx, user.ID, product.ID, 4)
		require.NoError(t, err)

		require.NoError(t, s.Carts.UpdateQuantity(ctx, user.ID, line.ID, qty))

		items, err := s.Carts.ListItems(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, items, "quantity %d should delete the line", qty)

		err = s.Carts.UpdateQuantity(ctx, user.ID, line.ID, qty)
		assert.ErrorIs(t, err, database.ErrCartLineNotFound)
	}
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "2.00", 10)

	line, err := s.Carts.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)

	require.NoError(t, s.Carts.RemoveItem(ctx, user.ID, line.ID))
	require.NoError(t, s.Carts.RemoveItem(ctx, user.ID, line.ID))

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClearOnlyTouchesOwner(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	other := newUser(t, s)
	a := newProduct(t, s, "1.00", 10)
	b := newProduct(t, s, "1.00", 10)

	for _, p := range []int64{a.ID, b.ID} {
		_, err := s.Carts.AddItem(ctx, user.ID, p, 1)
		require.NoError(t, err)
	}
	_, err := s.Carts.AddItem(ctx, other.ID, a.ID, 1)
	require.NoError(t, err)

	removed, err := s.Carts.Clear(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = s.Carts.Clear(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	otherItems, err := s.Carts.ListItems(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, otherItems, 1)
}

func TestAddItemRejectsQuantityBeyondColumnRange(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "1.00", 10)

	_, err := s.Carts.AddItem(ctx, user.ID, product.ID, models.MaxQuantity+1)
	assert.ErrorIs(t, err, database.ErrInvalidQuantity)
	assert.ErrorIs(t, err, database.ErrValidation)
	assert.Equal(t, 0, testutil.Count(t, db, "cart", "users_id = $1", user.ID))

	line, err := s.Carts.AddItem(ctx, user.ID, product.ID, models.MaxQuantity-1)
	require.NoError(t, err)

	_, err = s.Carts.AddItem(ctx, user.ID, product.ID, 2)
	assert.ErrorIs(t, err, database.ErrInvalidQuantity)

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, line.Quantity, items[0].Quantity, "a rejected increment must leave the line unchanged")

	line, err = s.Carts.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.MaxQuantity, line.Quantity)
}

func TestUpdateQuantityRejectsQuantityBeyondColumnRange(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	product := newProduct(t, s, "1.00", 10)

	line, err := s.Carts.AddItem(ctx, user.ID, product.ID, 2)
	require.NoError(t, err)

	err = s.Carts.UpdateQuantity(ctx, user.ID, line.ID, models.MaxQuantity+1)
	assert.ErrorIs(t, err, database.ErrInvalidQuantity)

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestRemoveOrderedKeepsLinesChangedAfterSnapshot(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	other := newUser(t, s)
	a := newProduct(t, s, "1.00", 10)
	b := newProduct(t, s, "1.00", 10)
	c := newProduct(t, s, "1.00", 10)

	_, err := s.Carts.AddItem(ctx, user.ID, a.ID, 2)
	require.NoError(t, err)
	lineB, err := s.Carts.AddItem(ctx, user.ID, b.ID, 1)
	require.NoError(t, err)
	_, err = s.Carts.AddItem(ctx, other.ID, a.ID, 1)
	require.NoError(t, err)

	snapshot, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	// Another tab keeps editing the cart before the order lands.
	_, err = s.Carts.AddItem(ctx, user.ID, a.ID, 3)
	require.NoError(t, err)
	require.NoError(t, s.Carts.RemoveItem(ctx, user.ID, lineB.ID))
	_, err = s.Carts.AddItem(ctx, user.ID, b.ID, 4)
	require.NoError(t, err)
	_, err = s.Carts.AddItem(ctx, user.ID, c.ID, 1)
	require.NoError(t, err)

	touched, err := s.Carts.RemoveOrdered(ctx, user.ID, snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched)

	items, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)
	remaining := map[int64]int{}
	for _, item := range items {
		remaining[item.ProductID] = item.Quantity
	}
	assert.Equal(t, map[int64]int{a.ID: 3, b.ID: 4, c.ID: 1}, remaining)

	otherItems, err := s.Carts.ListItems(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, otherItems, 1)
	assert.Equal(t, 1, otherItems[0].Quantity)
}

func TestRemoveOrderedDeletesUnchangedLines(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	user := newUser(t, s)
	a := newProduct(t, s, "1.00", 10)
	b := newProduct(t, s, "1.00", 10)

	for _, p := range []int64{a.ID, b.ID} {
		_, err := s.Carts.AddItem(ctx, user.ID, p, 2)
		require.NoError(t, err)
	}

	snapshot, err := s.Carts.ListItems(ctx, user.ID)
	require.NoError(t, err)

	touched, err := s.Carts.RemoveOrdered(ctx, user.ID, snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(2), touched)
	assert.Equal(t, 0, testutil.Count(t, db, "cart", "users_id = $1", user.ID))

	touched, err = s.Carts.RemoveOrdered(ctx, user.ID, snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(0), touched)

	touched, err = s.Carts.RemoveOrdered(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), touched)

	_, err = s.Carts.RemoveOrdered(ctx, 0, snapshot)
	assert.ErrorIs(t, err, database.ErrValidation)
}
