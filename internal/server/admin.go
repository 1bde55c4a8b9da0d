package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) adminListOrders(c echo.Context) error {
	orders, err := s.deps.Orders.GetAll(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// updateOrderStatus reports inventory decrements that failed in the body but
// still answers 200: the status change itself is committed.
func (s *Server) updateOrderStatus(c echo.Context) error {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	change, err := s.deps.Orders.UpdateStatus(c.Request().Context(), orderID, req.Status)
	if err != nil {
		return s.writeError(c, err)
	}
	if len(change.Failed) > 0 {
		s.logger.Warn("order status changed with failed inventory decrements",
			zap.String("request_id", requestID(c)),
			zap.Int64("order_id", orderID),
			zap.Int("failed", len(change.Failed)))
	}
	return c.JSON(http.StatusOK, change)
}

func (s *Server) adminListReviews(c echo.Context) error {
	reviews, err := s.deps.Reviews.ListAll(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, reviews)
}

func (s *Server) adminListReconciliations(c echo.Context) error {
	entries, err := s.deps.Reconciliations.ListOpen(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) adminResolveReconciliation(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reconciliation id")
	}

	cleared, err := s.deps.Reconciliations.Resolve(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"cleared": cleared})
}
