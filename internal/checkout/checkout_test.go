package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type cartMock struct{ mock.Mock }

func (m *cartMock) ListItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	args := m.Called(ctx, userID)
	items, _ := args.Get(0).([]models.CartItem)
	return items, args.Error(1)
}

func (m *cartMock) RemoveOrdered(ctx context.Context, userID int64, ordered []models.CartItem) (int64, error) {
	args := m.Called(ctx, userID, ordered)
	return args.Get(0).(int64), args.Error(1)
}

type orderMock struct{ mock.Mock }

func (m *orderMock) CreateOrder(ctx context.Context, req store.CreateOrderRequest) (*store.CreateOrderResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*store.CreateOrderResult)
	return result, args.Error(1)
}

func (m *orderMock) GetByID(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

type reviewMock struct{ mock.Mock }

func (m *reviewMock) Exists(ctx context.Context, orderID, userID int64) (bool, error) {
	args := m.Called(ctx, orderID, userID)
	return args.Bool(0), args.Error(1)
}

type reconciliationMock struct{ mock.Mock }

func (m *reconciliationMock) Record(ctx context.Context, userID, orderID int64, reason string) (*models.CartReconciliation, error) {
	args := m.Called(ctx, userID, orderID, reason)
	entry, _ := args.Get(0).(*models.CartReconciliation)
	return entry, args.Error(1)
}

type fixture struct {
	carts   *cartMock
	orders  *orderMock
	reviews *reviewMock
	recon   *reconciliationMock
	logs    *observer.ObservedLogs
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		carts:   &cartMock{},
		orders:  &orderMock{},
		reviews: &reviewMock{},
		recon:   &reconciliationMock{},
		logs:    logs,
	}
	f.svc = NewService(f.carts, f.orders, f.reviews, f.recon, zap.New(core))

	t.Cleanup(func() {
		f.carts.AssertExpectations(t)
		f.orders.AssertExpectations(t)
		f.reviews.AssertExpectations(t)
		f.recon.AssertExpectations(t)
	})
	return f
}

func sampleCart() []models.CartItem {
	return []models.CartItem{
		{CartLineID: 11, ProductID: 1, ProductName: "Product A", Image: "a.png", Price: decimal.RequireFromString("10.00"), Quantity: 2},
		{CartLineID: 12, ProductID: 2, ProductName: "Product B", Image: "b.png", Price: decimal.RequireFromString("5.00"), Quantity: 1},
	}
}

func snapshotOf(req store.CreateOrderRequest) bool {
	if req.UserID != 7 || len(req.Items) != 2 || req.ExpectedTotal == nil {
		return false
	}
	return req.Items[0].ProductID == 1 && req.Items[0].Quantity == 2 &&
		req.Items[0].PriceEach.Equal(decimal.RequireFromString("10.00")) &&
		req.Items[1].ProductID == 2 && req.Items[1].Quantity == 1 &&
		req.Items[1].PriceEach.Equal(decimal.RequireFromString("5.00")) &&
		req.ExpectedTotal.Equal(decimal.RequireFromString("25.00"))
}

func createdOrder() *store.CreateOrderResult {
	return &store.CreateOrderResult{
		OrderID:   100,
		Total:     decimal.RequireFromString("25.00"),
		Status:    models.OrderStatusPending,
		CreatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return([]models.CartItem{}, nil)

	result, err := f.svc.Checkout(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, ReasonEmptyCart, result.Reason)
	assert.Equal(t, "/cart", result.Redirect)
	assert.Nil(t, result.Confirmation)

	f.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	f.carts.AssertNotCalled(t, "RemoveOrdered", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(snapshotOf)).Return(createdOrder(), nil)
	f.carts.On("RemoveOrdered", mock.Anything, int64(7), sampleCart()).Return(int64(2), nil)
	f.reviews.On("Exists", mock.Anything, int64(100), int64(7)).Return(false, nil)

	result, err := f.svc.Checkout(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)

	c := result.Confirmation
	require.NotNil(t, c)
	assert.Equal(t, int64(100), c.OrderID)
	assert.Equal(t, "25.00", c.Total.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, c.Status)
	assert.False(t, c.Reviewed)
	require.Len(t, c.Items, 2)
	assert.Equal(t, "Product A", c.Items[0].ProductName)
	assert.Equal(t, "a.png", c.Items[0].Image)
	assert.True(t, models.OrderItemsTotal(c.Items).Equal(c.Total))
}

func TestCheckoutCreateOrderFailureLeavesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	result, err := f.svc.Checkout(ctx, 7)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, database.ErrPersistence)

	f.carts.AssertNotCalled(t, "RemoveOrdered", mock.Anything, mock.Anything, mock.Anything)
	f.reviews.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.logs.FilterMessage("checkout aborted").Len())
}

func TestCheckoutPassesThroughCategorizedErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, database.ErrTotalMismatch)

	_, err := f.svc.Checkout(ctx, 7)
	assert.ErrorIs(t, err, database.ErrValidation)
	assert.NotErrorIs(t, err, database.ErrPersistence)
}

func TestCheckoutRejectsInvalidSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cart := sampleCart()
	cart[1].Quantity = 0
	f.carts.On("ListItems", mock.Anything, int64(7)).Return(cart, nil)

	_, err := f.svc.Checkout(ctx, 7)
	assert.ErrorIs(t, err, database.ErrInvalidQuantity)
	f.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCheckoutCartLoadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(nil, context.DeadlineExceeded)

	_, err := f.svc.Checkout(ctx, 7)
	assert.ErrorIs(t, err, database.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckoutClearFailureRecordsReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clearErr := errors.New("connection reset by peer")

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(createdOrder(), nil)
	f.carts.On("RemoveOrdered", mock.Anything, int64(7), mock.Anything).Return(int64(0), clearErr)
	f.recon.On("Record", mock.Anything, int64(7), int64(100), clearErr.Error()).
		Return(&models.CartReconciliation{ID: 1}, nil)
	f.reviews.On("Exists", mock.Anything, int64(100), int64(7)).Return(false, nil)

	result, err := f.svc.Checkout(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, int64(100), result.Confirmation.OrderID)

	warnings := f.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("cart not cleared after checkout, needs reconciliation")
	assert.Equal(t, 1, warnings.Len())
}

func TestCheckoutReconciliationFailureStillConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(createdOrder(), nil)
	f.carts.On("RemoveOrdered", mock.Anything, int64(7), mock.Anything).Return(int64(0), errors.New("boom"))
	f.recon.On("Record", mock.Anything, int64(7), int64(100), "boom").Return(nil, errors.New("also boom"))
	f.reviews.On("Exists", mock.Anything, int64(100), int64(7)).Return(false, nil)

	result, err := f.svc.Checkout(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, 1, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestCheckoutReviewLookupFailureDefaultsToFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.carts.On("ListItems", mock.Anything, int64(7)).Return(sampleCart(), nil)
	f.orders.On("CreateOrder", mock.Anything, mock.Anything).Return(createdOrder(), nil)
	f.carts.On("RemoveOrdered", mock.Anything, int64(7), mock.Anything).Return(int64(2), nil)
	f.reviews.On("Exists", mock.Anything, int64(100), int64(7)).Return(true, errors.New("timeout"))

	result, err := f.svc.Checkout(ctx, 7)
	require.NoError(t, err)
	assert.False(t, result.Confirmation.Reviewed)
}

func TestCheckoutInvalidUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), 0)
	assert.ErrorIs(t, err, database.ErrValidation)
}

func TestConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := &models.Order{
		ID:         100,
		UserID:     7,
		TotalPrice: decimal.RequireFromString("25.00"),
		Status:     models.OrderStatusCompleted,
		Items: []models.OrderItem{
			{ID: 1, OrderID: 100, ProductID: 1, Quantity: 2, PriceEach: decimal.RequireFromString("10.00")},
			{ID: 2, OrderID: 100, ProductID: 2, Quantity: 1, PriceEach: decimal.RequireFromString("5.00")},
		},
	}
	f.orders.On("GetByID", mock.Anything, int64(100)).Return(order, nil)
	f.reviews.On("Exists", mock.Anything, int64(100), int64(7)).Return(true, nil)

	c, err := f.svc.Confirmation(ctx, 7, 100)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, c.Status)
	assert.True(t, c.Reviewed)
	assert.Len(t, c.Items, 2)
}

func TestConfirmationForeignOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orders.On("GetByID", mock.Anything, int64(100)).Return(&models.Order{ID: 100, UserID: 8}, nil)

	_, err := f.svc.Confirmation(ctx, 7, 100)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
	f.reviews.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmationUnknownOrder(t *testing.T) {
	f := newFixture(t)

	f.orders.On("GetByID", mock.Anything, int64(5)).Return(nil, database.ErrOrderNotFound)

	_, err := f.svc.Confirmation(context.Background(), 7, 5)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestConfirmationJSONUsesFixedMoney(t *testing.T) {
	c := Confirmation{
		OrderID: 100,
		Total:   decimal.NewFromInt(25),
		Status:  models.OrderStatusPending,
		Items:   []models.OrderItem{{ProductID: 1, Quantity: 2, PriceEach: decimal.NewFromInt(10)}},
	}

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total":"25.00"`)
	assert.Contains(t, string(raw), `"price_each":"10.00"`)
	assert.Contains(t, string(raw), `"order_id":100`)

	var back Confirmation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Total.Equal(c.Total))
}
