package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

type CartStore struct {
	base
}

// AddItem adds quantity of a product to the user's cart, incrementing the
// existing line when there is one. The upsert is a single statement, so two
// concurrent adds of the same product both land. An increment that would
// push the line past models.MaxQuantity is rejected and leaves it unchanged.
func (s *CartStore) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error) {
	if userID <= 0 || productID <= 0 {
		return nil, database.ErrInvalidID
	}
	if quantity < 1 {
		quantity = 1
	}
	if quantity > models.MaxQuantity {
		return nil, database.ErrInvalidQuantity
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	line := &models.CartLine{UserID: userID, ProductID: productID}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO cart (users_id, products_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (users_id, products_id)
		 DO UPDATE SET quantity = cart.quantity + EXCLUDED.quantity
		 WHERE cart.quantity::bigint + EXCLUDED.quantity <= $4
		 RETURNING id, quantity`,
		userID, productID, quantity, models.MaxQuantity).Scan(&line.ID, &line.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsNumericOutOfRange(err) {
			return nil, database.ErrInvalidQuantity
		}
		if database.IsForeignKeyViolation(err) {
			if strings.Contains(database.ViolatedConstraint(err), "products_id") {
				return nil, database.ErrProductNotFound
			}
			return nil, database.ErrUserNotFound
		}
		return nil, database.Persistence("add cart item", err)
	}

	return line, nil
}

// ListItems returns the user's cart joined with live product fields, oldest
// line first. An empty cart yields an empty slice.
func (s *CartStore) ListItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := `
		SELECT c.id, p.id, p.productname, p.image, p.price, c.quantity
		FROM cart c
		JOIN products p ON c.products_id = p.id
		WHERE c.users_id = $1
		ORDER BY c.id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, database.Persistence("list cart items", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.CartLineID,
			&item.ProductID,
			&item.ProductName,
			&item.Image,
			&item.Price,
			&item.Quantity,
		)
		if err != nil {
			return nil, database.Persistence("scan cart item", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return items, nil
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
// Lines that are missing or owned by another user report ErrCartLineNotFound.
func (s *CartStore) UpdateQuantity(ctx context.Context, userID, cartLineID int64, quantity int) error {
	if userID <= 0 || cartLineID <= 0 {
		return database.ErrInvalidID
	}
	if quantity > models.MaxQuantity {
		return database.ErrInvalidQuantity
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		op    string
		query string
		args  []any
	)
	if quantity <= 0 {
		op = "delete cart line"
		query = `DELETE FROM cart WHERE id = $1 AND users_id = $2`
		args = []any{cartLineID, userID}
	} else {
		op = "update cart quantity"
		query = `UPDATE cart SET quantity = $3 WHERE id = $1 AND users_id = $2`
		args = []any{cartLineID, userID, quantity}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return database.Persistence(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}
	if rowsAffected == 0 {
		return database.ErrCartLineNotFound
	}

	return nil
}

// RemoveItem deletes one line. Removing a line that is already gone is not
// an error.
func (s *CartStore) RemoveItem(ctx context.Context, userID, cartLineID int64) error {
	if userID <= 0 || cartLineID <= 0 {
		return database.ErrInvalidID
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cart WHERE id = $1 AND users_id = $2`,
		cartLineID, userID)
	if err != nil {
		return database.Persistence("remove cart item", err)
	}

	return nil
}

// Clear empties the user's cart and reports how many lines were removed.
func (s *CartStore) Clear(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return clearCart(ctx, s.db, userID)
}

// RemoveOrdered takes the given snapshot of lines out of the user's cart in
// one statement. A line still holding at most the ordered quantity is
// deleted and a line that grew since is reduced by it. Lines added after the
// snapshot keep their rows because their ids are not in it.
func (s *CartStore) RemoveOrdered(ctx context.Context, userID int64, ordered []models.CartItem) (int64, error) {
	if userID <= 0 {
		return 0, database.ErrInvalidID
	}
	if len(ordered) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(ordered))
	quantities := make([]int64, len(ordered))
	for i, item := range ordered {
		ids[i] = item.CartLineID
		quantities[i] = int64(item.Quantity)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var touched int64
	err := s.db.QueryRowContext(ctx,
		`WITH ordered AS (
			SELECT id, quantity FROM unnest($2::bigint[], $3::bigint[]) AS o(id, quantity)
		), removed AS (
			DELETE FROM cart c USING ordered o
			WHERE c.users_id = $1 AND c.id = o.id AND c.quantity <= o.quantity
			RETURNING c.id
		), reduced AS (
			UPDATE cart c SET quantity = c.quantity - o.quantity
			FROM ordered o
			WHERE c.users_id = $1 AND c.id = o.id AND c.quantity > o.quantity
			RETURNING c.id
		)
		SELECT (SELECT COUNT(*) FROM removed) + (SELECT COUNT(*) FROM reduced)`,
		userID, pq.Array(ids), pq.Array(quantities)).Scan(&touched)
	if err != nil {
		return 0, database.Persistence("remove ordered cart lines", err)
	}

	return touched, nil
}

func clearCart(ctx context.Context, db database.DBTX, userID int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM cart WHERE users_id = $1`, userID)
	if err != nil {
		return 0, database.Persistence("clear cart", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, database.Persistence("get rows affected", err)
	}

	return rowsAffected, nil
}
