package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testutil"
)

var fixtureSeq atomic.Int64

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	return New(db, Options{QueryTimeout: 5 * time.Second, TxMaxRetries: 3}), db
}

func newUser(t *testing.T, s *Store) *models.User {
	t.Helper()

	n := fixtureSeq.Add(1)
	user, err := s.Users.Create(context.Background(),
		fmt.Sprintf("user%d", n), fmt.Sprintf("user%d@example.com", n), models.RoleUser)
	require.NoError(t, err)
	return user
}

func newProduct(t *testing.T, s *Store, price string, stock int) *models.Product {
	t.Helper()

	n := fixtureSeq.Add(1)
	product, err := s.Products.Create(context.Background(), ProductInput{
		Name:     fmt.Sprintf("Product %d", n),
		Price:    decimal.RequireFromString(price),
		Quantity: stock,
		Image:    fmt.Sprintf("product-%d.png", n),
		Category: "Test",
	})
	require.NoError(t, err)
	return product
}
