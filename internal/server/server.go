// Package server exposes the storefront over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type Products interface {
	Get(ctx context.Context, id int64) (*models.Product, error)
	List(ctx context.Context, category string, page, pageSize int) (*store.OffsetPage, error)
}

type Carts interface {
	AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error)
	ListItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	UpdateQuantity(ctx context.Context, userID, cartLineID int64, quantity int) error
	RemoveItem(ctx context.Context, userID, cartLineID int64) error
	Clear(ctx context.Context, userID int64) (int64, error)
}

type Orders interface {
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	GetAll(ctx context.Context) ([]models.Order, error)
	ListByUserCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error)
	UpdateStatus(ctx context.Context, orderID int64, status string) (*store.StatusChange, error)
}

type Reviews interface {
	Create(ctx context.Context, orderID, userID int64, rating int, comment string) (*models.Review, error)
	ListAll(ctx context.Context) ([]models.Review, error)
}

type Reconciliations interface {
	ListOpen(ctx context.Context) ([]models.CartReconciliation, error)
	Resolve(ctx context.Context, id int64) (int64, error)
}

type Checkout interface {
	Checkout(ctx context.Context, userID int64) (*checkout.Result, error)
	Confirmation(ctx context.Context, userID, orderID int64) (*checkout.Confirmation, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Any of them may be a fake
// in tests.
type Deps struct {
	DB              Pinger
	Products        Products
	Carts           Carts
	Orders          Orders
	Reviews         Reviews
	Reconciliations Reconciliations
	Checkout        Checkout
}

// DepsFromStore wires the production stores and checkout service.
func DepsFromStore(db Pinger, s *store.Store, svc *checkout.Service) Deps {
	return Deps{
		DB:              db,
		Products:        s.Products,
		Carts:           s.Carts,
		Orders:          s.Orders,
		Reviews:         s.Reviews,
		Reconciliations: s.Reconciliations,
		Checkout:        svc,
	}
}

type Server struct {
	deps   Deps
	cfg    config.ServerConfig
	logger *zap.Logger
	echo   *echo.Echo
}

func New(deps Deps, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("http"), echo: e}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.requestLogger)
	e.Use(identity)

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", s.healthz)
	e.GET("/products", s.listProducts)
	e.GET("/products/:id", s.getProduct)

	cart := e.Group("/cart", requireUser)
	cart.GET("", s.getCart)
	cart.POST("/clear", s.clearCart)
	cart.POST("/lines/:cartLineId", s.updateCartLine)
	cart.POST("/lines/:cartLineId/remove", s.removeCartLine)
	cart.POST("/:productId", s.addToCart)

	e.POST("/checkout", s.checkout, requireUser)
	e.GET("/checkout/confirm/:orderId", s.confirmation, requireUser)

	e.GET("/orders", s.listOrders, requireUser)
	e.GET("/orders/:orderId", s.getOrder, requireUser)
	e.POST("/orders/:orderId/status", s.updateOrderStatus, requireUser, requireAdmin)
	e.POST("/reviews/:orderId", s.createReview, requireUser)

	admin := e.Group("/admin", requireUser, requireAdmin)
	admin.GET("/orders", s.adminListOrders)
	admin.GET("/reviews", s.adminListReviews)
	admin.GET("/reconciliations", s.adminListReconciliations)
	admin.POST("/reconciliations/:id/resolve", s.adminResolveReconciliation)
}

// Handler returns the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) healthz(c echo.Context) error {
	if err := s.deps.DB.PingContext(c.Request().Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type cartView struct {
	Items []models.CartItem `json:"items"`
	Total string            `json:"total"`
}
