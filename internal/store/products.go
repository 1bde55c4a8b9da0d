package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

type ProductStore struct {
	base
}

type ProductInput struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
	Image    string
	Category string
}

const productColumns = `id, productname, price, quantity, image, category, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.Quantity,
		&product.Image,
		&product.Category,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func (s *ProductStore) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: product name is required", database.ErrValidation)
	}
	if in.Price.IsNegative() {
		return nil, database.ErrInvalidPrice
	}
	if in.Quantity < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", database.ErrValidation)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	product := &models.Product{}

	query := `
		INSERT INTO products (productname, price, quantity, image, category, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(in.Name), in.Price.Round(2), in.Quantity, in.Image, in.Category)
	if err := scanProduct(row, product); err != nil {
		return nil, database.Persistence("create product", err)
	}

	return product, nil
}

func (s *ProductStore) Get(ctx context.Context, id int64) (*models.Product, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(s.db.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, database.Persistence("get product", err)
	}

	return product, nil
}

// UpdatePrice changes the live catalog price. Existing order items keep the
// price they were created with.
func (s *ProductStore) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return database.ErrInvalidPrice
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE products
		 SET price = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		price.Round(2), id)
	if err != nil {
		return database.Persistence("update price", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func (s *ProductStore) DecrementStock(ctx context.Context, id int64, quantity int) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return decrementStock(ctx, s.db, id, quantity)
}

// decrementStock floors stock at zero instead of rejecting the update: the
// order being completed has already been accepted.
func decrementStock(ctx context.Context, db database.DBTX, productID int64, quantity int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET quantity = GREATEST(quantity - $1, 0),
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return database.Persistence("decrement stock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func (s *ProductStore) List(ctx context.Context, category string, page, pageSize int) (*OffsetPage, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE $1::text = '' OR category = $1`, category).Scan(&total)
	if err != nil {
		return nil, database.Persistence("count products", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE $1::text = '' OR category = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, category, pageSize, offset)
	if err != nil {
		return nil, database.Persistence("list products", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, database.Persistence("scan product", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
