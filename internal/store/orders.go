package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

type OrderStore struct {
	base
}

type CreateOrderRequest struct {
	UserID int64
	Items  []OrderItemRequest
	// ExpectedTotal is the caller's own computation of the total. When set,
	// the order is rejected unless the persisted total matches it.
	ExpectedTotal *decimal.Decimal
}

// OrderItemRequest is a frozen snapshot of one cart line. PriceEach is
// stored as given and never re-read from the catalog.
type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	PriceEach decimal.Decimal
}

type CreateOrderResult struct {
	OrderID   int64              `json:"order_id"`
	Total     decimal.Decimal    `json:"total"`
	Status    models.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

func (r CreateOrderRequest) Validate() error {
	if r.UserID <= 0 {
		return database.ErrInvalidID
	}
	if len(r.Items) == 0 {
		return database.ErrEmptyOrder
	}
	for i, item := range r.Items {
		switch {
		case item.ProductID <= 0:
			return fmt.Errorf("item %d: %w", i, database.ErrInvalidID)
		case item.Quantity < 1 || item.Quantity > models.MaxQuantity:
			return fmt.Errorf("item %d: %w", i, database.ErrInvalidQuantity)
		case item.PriceEach.IsNegative():
			return fmt.Errorf("item %d: %w", i, database.ErrInvalidPrice)
		case !item.PriceEach.Equal(item.PriceEach.Round(2)):
			return fmt.Errorf("item %d: %w: more than two decimal places", i, database.ErrInvalidPrice)
		}
	}
	return nil
}

// Total sums priceEach*quantity over the supplied snapshot.
func (r CreateOrderRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(models.LineTotal(item.PriceEach, item.Quantity))
	}
	return total
}

// CreateOrder inserts the order and all of its items in one transaction.
// Either every row commits or none does.
func (s *OrderStore) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	total := req.Total()
	if req.ExpectedTotal != nil && !req.ExpectedTotal.Equal(total) {
		return nil, fmt.Errorf("%w: expected %s, computed %s",
			database.ErrTotalMismatch, req.ExpectedTotal.StringFixed(2), total.StringFixed(2))
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var result *CreateOrderResult

	err := database.WithRetry(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		created := &CreateOrderResult{}
		var storedTotal decimal.Decimal

		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (users_id, total_price, order_date, status, version)
			 VALUES ($1, $2, NOW(), $3, 1)
			 RETURNING id, total_price, status, order_date`,
			req.UserID, total, models.OrderStatusPending).Scan(
			&created.OrderID,
			&storedTotal,
			&created.Status,
			&created.CreatedAt,
		)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return database.ErrUserNotFound
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, item := range req.Items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO orders_items (orders_id, products_id, quantity, price_each)
				 VALUES ($1, $2, $3, $4)`,
				created.OrderID, item.ProductID, item.Quantity, item.PriceEach)
			if err != nil {
				if database.IsForeignKeyViolation(err) {
					return fmt.Errorf("item %d: %w", i, database.ErrProductNotFound)
				}
				if database.IsNumericOutOfRange(err) {
					return fmt.Errorf("item %d: %w", i, database.ErrInvalidQuantity)
				}
				return fmt.Errorf("create order item %d: %w", i, err)
			}
		}

		var itemsTotal decimal.Decimal
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(ROUND(quantity * price_each, 2)), 0)
			 FROM orders_items
			 WHERE orders_id = $1`,
			created.OrderID).Scan(&itemsTotal)
		if err != nil {
			return fmt.Errorf("sum order items: %w", err)
		}

		if !itemsTotal.Equal(storedTotal) || !storedTotal.Equal(total) {
			return fmt.Errorf("%w: order %s, items %s, computed %s", database.ErrTotalMismatch,
				storedTotal.StringFixed(2), itemsTotal.StringFixed(2), total.StringFixed(2))
		}

		created.Total = storedTotal
		result = created
		return nil
	})
	if err != nil {
		return nil, database.Persistence("create order", err)
	}

	return result, nil
}

const orderSelect = `
	SELECT o.id, o.users_id, COALESCE(u.username, ''), o.total_price, o.order_date, o.status, o.version
	FROM orders o
	LEFT JOIN users u ON o.users_id = u.id`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.Username,
		&order.TotalPrice,
		&order.CreatedAt,
		&order.Status,
		&order.Version,
	)
}

// GetByID returns the order with its items joined with product display fields.
func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	order := &models.Order{}

	err := scanOrder(s.db.QueryRowContext(ctx, orderSelect+` WHERE o.id = $1`, orderID), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.Persistence("get order", err)
	}

	items, err := orderItems(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func orderItems(ctx context.Context, db database.DBTX, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT oi.id, oi.orders_id, oi.products_id,
		       COALESCE(p.productname, ''), COALESCE(p.image, ''),
		       oi.quantity, oi.price_each
		FROM orders_items oi
		LEFT JOIN products p ON oi.products_id = p.id
		WHERE oi.orders_id = $1
		ORDER BY oi.id`

	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, database.Persistence("get order items", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Image,
			&item.Quantity,
			&item.PriceEach,
		)
		if err != nil {
			return nil, database.Persistence("scan order item", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return items, nil
}

// GetAll lists every order, newest first.
func (s *OrderStore) GetAll(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(ctx, orderSelect+` ORDER BY o.order_date DESC, o.id DESC`)
}

// GetByUser lists one user's orders, newest first.
func (s *OrderStore) GetByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.listOrders(ctx, orderSelect+` WHERE o.users_id = $1 ORDER BY o.order_date DESC, o.id DESC`, userID)
}

func (s *OrderStore) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Persistence("list orders", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, database.Persistence("scan order", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return orders, nil
}

// ListByUserCursor pages through a user's orders newest first using a
// (order_date, id) keyset.
func (s *OrderStore) ListByUserCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", database.ErrValidation)
	}

	var (
		where strings.Builder
		args  = []any{userID}
	)
	where.WriteString(` WHERE o.users_id = $1`)
	if cursorData != nil {
		where.WriteString(` AND (o.order_date, o.id) < ($2, $3)`)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
	}
	args = append(args, limit+1)
	query := orderSelect + where.String() +
		fmt.Sprintf(` ORDER BY o.order_date DESC, o.id DESC LIMIT $%d`, len(args))

	orders, err := s.listOrders(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// StockDecrement is one inventory side effect of completing an order.
type StockDecrement struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Error     string `json:"error,omitempty"`
}

type StatusChange struct {
	OrderID     int64              `json:"order_id"`
	Previous    models.OrderStatus `json:"previous"`
	Current     models.OrderStatus `json:"current"`
	Decremented []StockDecrement   `json:"decremented,omitempty"`
	Failed      []StockDecrement   `json:"failed,omitempty"`
}

// UpdateStatus commits the new status first and only then applies inventory
// side effects. Entering Completed from any other status decrements stock for
// every item; each decrement is independent and a failure is logged and
// reported in Failed without undoing the status change.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID int64, status string) (*StatusChange, error) {
	next, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", database.ErrInvalidStatus, status)
	}
	if orderID <= 0 {
		return nil, database.ErrInvalidID
	}

	change := &StatusChange{OrderID: orderID, Current: next}

	txCtx, cancel := s.bound(ctx)
	err = database.WithTransaction(txCtx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(txCtx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&change.Previous)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		_, err = tx.ExecContext(txCtx,
			`UPDATE orders SET status = $1, version = version + 1 WHERE id = $2`,
			next, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil
	})
	cancel()
	if err != nil {
		return nil, database.Persistence("update order status", err)
	}

	logger := s.opts.Logger.With(zap.Int64("order_id", orderID))
	logger.Info("order status changed",
		zap.String("previous", string(change.Previous)),
		zap.String("current", string(change.Current)))

	if next != models.OrderStatusCompleted || change.Previous == models.OrderStatusCompleted {
		return change, nil
	}

	// The status is committed; a caller going away must not strand the decrements.
	s.decrementInventory(context.WithoutCancel(ctx), logger, change)
	return change, nil
}

func (s *OrderStore) decrementInventory(ctx context.Context, logger *zap.Logger, change *StatusChange) {
	itemsCtx, cancel := s.bound(ctx)
	items, err := orderItems(itemsCtx, s.db, change.OrderID)
	cancel()
	if err != nil {
		logger.Error("load order items for inventory decrement", zap.Error(err))
		change.Failed = append(change.Failed, StockDecrement{Error: err.Error()})
		return
	}

	for _, item := range items {
		d := StockDecrement{ProductID: item.ProductID, Quantity: item.Quantity}

		itemCtx, cancel := s.bound(ctx)
		err := decrementStock(itemCtx, s.db, item.ProductID, item.Quantity)
		cancel()

		if err != nil {
			logger.Warn("inventory decrement failed",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			d.Error = err.Error()
			change.Failed = append(change.Failed, d)
			continue
		}
		change.Decremented = append(change.Decremented, d)
	}
}
