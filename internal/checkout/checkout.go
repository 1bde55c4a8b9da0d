// Package checkout turns a user's cart into an order.
//
// A checkout moves through Idle, CartLoaded, Validated, OrderCreated,
// CartCleared and Confirmed. An empty cart ends the flow in Aborted with a
// redirect back to the cart and no error. Any other failure before the order
// exists aborts with an error and leaves the cart as it was. Once the order
// is committed it is the source of truth: a failed cart clear is logged and
// recorded for reconciliation, and the checkout still confirms.
package checkout

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type CartStore interface {
	ListItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	RemoveOrdered(ctx context.Context, userID int64, ordered []models.CartItem) (int64, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, req store.CreateOrderRequest) (*store.CreateOrderResult, error)
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
}

type ReviewGate interface {
	Exists(ctx context.Context, orderID, userID int64) (bool, error)
}

type ReconciliationLog interface {
	Record(ctx context.Context, userID, orderID int64, reason string) (*models.CartReconciliation, error)
}

type State string

const (
	StateIdle         State = "Idle"
	StateCartLoaded   State = "CartLoaded"
	StateValidated    State = "Validated"
	StateOrderCreated State = "OrderCreated"
	StateCartCleared  State = "CartCleared"
	StateConfirmed    State = "Confirmed"
	StateAborted      State = "Aborted"
)

type Reason string

const ReasonEmptyCart Reason = "empty_cart"

// CartPath is where an aborted checkout sends the user.
const CartPath = "/cart"

type Result struct {
	State        State         `json:"state"`
	Reason       Reason        `json:"reason,omitempty"`
	Redirect     string        `json:"redirect,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

// Confirmation is the view of a placed order shown right after checkout and
// on the order's confirmation page.
type Confirmation struct {
	OrderID   int64              `json:"order_id"`
	Total     decimal.Decimal    `json:"total"`
	CreatedAt time.Time          `json:"created_at"`
	Status    models.OrderStatus `json:"status"`
	Items     []models.OrderItem `json:"items"`
	Reviewed  bool               `json:"reviewed"`
}

func (c Confirmation) MarshalJSON() ([]byte, error) {
	type confirmation Confirmation
	return json.Marshal(struct {
		confirmation
		Total string `json:"total"`
	}{confirmation(c), models.Money(c.Total)})
}

type Service struct {
	carts           CartStore
	orders          OrderStore
	reviews         ReviewGate
	reconciliations ReconciliationLog
	logger          *zap.Logger

	inflight singleflight.Group
}

func NewService(carts CartStore, orders OrderStore, reviews ReviewGate, reconciliations ReconciliationLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		carts:           carts,
		orders:          orders,
		reviews:         reviews,
		reconciliations: reconciliations,
		logger:          logger.Named("checkout"),
	}
}

// Checkout converts the user's cart into an order. Concurrent calls for the
// same user share one run and one result.
func (s *Service) Checkout(ctx context.Context, userID int64) (*Result, error) {
	if userID <= 0 {
		return nil, database.ErrInvalidID
	}

	// The shared run must not die with whichever caller happened to start it.
	runCtx := context.WithoutCancel(ctx)

	v, err, shared := s.inflight.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return s.run(runCtx, userID)
	})
	if shared {
		s.logger.Info("checkout coalesced with an in-flight submission", zap.Int64("user_id", userID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Service) run(ctx context.Context, userID int64) (*Result, error) {
	logger := s.logger.With(zap.Int64("user_id", userID))
	state := StateIdle

	abort := func(err error) (*Result, error) {
		logger.Warn("checkout aborted", zap.String("state", string(state)), zap.Error(err))
		return nil, err
	}

	items, err := s.carts.ListItems(ctx, userID)
	if err != nil {
		return abort(database.Persistence("load cart", err))
	}
	if len(items) == 0 {
		logger.Info("checkout on empty cart")
		return &Result{State: StateAborted, Reason: ReasonEmptyCart, Redirect: CartPath}, nil
	}
	state = StateCartLoaded

	// Prices freeze here. The order keeps these values whatever the
	// catalog does afterwards.
	req := store.CreateOrderRequest{UserID: userID, Items: make([]store.OrderItemRequest, len(items))}
	for i, item := range items {
		req.Items[i] = store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			PriceEach: item.Price,
		}
	}
	if err := req.Validate(); err != nil {
		return abort(err)
	}
	expected := models.CartTotal(items)
	req.ExpectedTotal = &expected
	state = StateValidated

	created, err := s.orders.CreateOrder(ctx, req)
	if err != nil {
		return abort(database.Persistence("create order", err))
	}
	state = StateOrderCreated
	logger = logger.With(zap.Int64("order_id", created.OrderID))
	logger.Info("order created", zap.String("total", created.Total.StringFixed(2)))

	// Only the snapshotted lines go; anything added meanwhile stays in the cart.
	if _, err := s.carts.RemoveOrdered(ctx, userID, items); err != nil {
		s.recordStaleCart(ctx, logger, userID, created.OrderID, err)
	} else {
		state = StateCartCleared
	}

	confirmation := &Confirmation{
		OrderID:   created.OrderID,
		Total:     created.Total,
		CreatedAt: created.CreatedAt,
		Status:    created.Status,
		Items:     make([]models.OrderItem, len(items)),
		Reviewed:  s.reviewed(ctx, logger, created.OrderID, userID),
	}
	for i, item := range items {
		confirmation.Items[i] = models.OrderItem{
			OrderID:     created.OrderID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    item.Quantity,
			PriceEach:   item.Price,
		}
	}

	logger.Info("checkout confirmed", zap.String("from_state", string(state)))
	return &Result{State: StateConfirmed, Confirmation: confirmation}, nil
}

func (s *Service) recordStaleCart(ctx context.Context, logger *zap.Logger, userID, orderID int64, clearErr error) {
	logger.Warn("cart not cleared after checkout, needs reconciliation", zap.Error(clearErr))

	if _, err := s.reconciliations.Record(ctx, userID, orderID, clearErr.Error()); err != nil {
		logger.Error("record cart reconciliation", zap.Error(err))
	}
}

func (s *Service) reviewed(ctx context.Context, logger *zap.Logger, orderID, userID int64) bool {
	exists, err := s.reviews.Exists(ctx, orderID, userID)
	if err != nil {
		logger.Warn("review lookup failed, assuming no review", zap.Error(err))
		return false
	}
	return exists
}

// Confirmation rebuilds the confirmation view of a stored order. Orders that
// belong to someone else read as not found.
func (s *Service) Confirmation(ctx context.Context, userID, orderID int64) (*Confirmation, error) {
	if userID <= 0 || orderID <= 0 {
		return nil, database.ErrInvalidID
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, database.Persistence("get order", err)
	}
	if order.UserID != userID {
		return nil, database.ErrOrderNotFound
	}

	logger := s.logger.With(zap.Int64("user_id", userID), zap.Int64("order_id", orderID))

	return &Confirmation{
		OrderID:   order.ID,
		Total:     order.TotalPrice,
		CreatedAt: order.CreatedAt,
		Status:    order.Status,
		Items:     order.Items,
		Reviewed:  s.reviewed(ctx, logger, orderID, userID),
	}, nil
}
