package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(c echo.Context, name string, def, max int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n < 1 {
		return def
	}
	if max > 0 && n > max {
		return def
	}
	return n
}

func (s *Server) listProducts(c echo.Context) error {
	page := queryInt(c, "page", 1, 0)
	pageSize := queryInt(c, "page_size", defaultPageSize, maxPageSize)

	result, err := s.deps.Products.List(c.Request().Context(), c.QueryParam("category"), page, pageSize)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) getProduct(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid product id")
	}

	product, err := s.deps.Products.Get(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, product)
}

func (s *Server) getCart(c echo.Context) error {
	uid, _ := userID(c)

	items, err := s.deps.Carts.ListItems(c.Request().Context(), uid)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, cartView{Items: items, Total: models.Money(models.CartTotal(items))})
}

type addToCartRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Server) addToCart(c echo.Context) error {
	uid, _ := userID(c)

	productID, ok := pathID(c, "productId")
	if !ok {
		return badRequest(c, "invalid product id")
	}

	var req addToCartRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	line, err := s.deps.Carts.AddItem(c.Request().Context(), uid, productID, quantity)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, line)
}

type updateCartLineRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Server) updateCartLine(c echo.Context) error {
	uid, _ := userID(c)

	lineID, ok := pathID(c, "cartLineId")
	if !ok {
		return badRequest(c, "invalid cart line id")
	}

	var req updateCartLineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "quantity must be a number")
	}
	if req.Quantity == nil {
		return badRequest(c, "quantity is required")
	}

	if err := s.deps.Carts.UpdateQuantity(c.Request().Context(), uid, lineID, *req.Quantity); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeCartLine(c echo.Context) error {
	uid, _ := userID(c)

	lineID, ok := pathID(c, "cartLineId")
	if !ok {
		return badRequest(c, "invalid cart line id")
	}

	if err := s.deps.Carts.RemoveItem(c.Request().Context(), uid, lineID); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) clearCart(c echo.Context) error {
	uid, _ := userID(c)

	if _, err := s.deps.Carts.Clear(c.Request().Context(), uid); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) checkout(c echo.Context) error {
	uid, _ := userID(c)

	result, err := s.deps.Checkout.Checkout(c.Request().Context(), uid)
	if err != nil {
		return s.writeError(c, err)
	}
	if result.State == checkout.StateAborted {
		return c.Redirect(http.StatusSeeOther, result.Redirect)
	}
	return c.JSON(http.StatusCreated, result.Confirmation)
}

func (s *Server) confirmation(c echo.Context) error {
	uid, _ := userID(c)

	orderID, ok := pathID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}

	confirmation, err := s.deps.Checkout.Confirmation(c.Request().Context(), uid, orderID)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, confirmation)
}

func (s *Server) listOrders(c echo.Context) error {
	uid, _ := userID(c)
	limit := queryInt(c, "limit", defaultPageSize, maxPageSize)

	page, err := s.deps.Orders.ListByUserCursor(c.Request().Context(), uid, c.QueryParam("cursor"), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// ownedOrder loads an order the caller may see. Admins see every order;
// anyone else gets not found for orders that are not theirs.
func (s *Server) ownedOrder(c echo.Context) (*models.Order, error) {
	uid, _ := userID(c)

	orderID, ok := pathID(c, "orderId")
	if !ok {
		return nil, database.ErrInvalidID
	}

	order, err := s.deps.Orders.GetByID(c.Request().Context(), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != uid && !isAdmin(c) {
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}

func (s *Server) getOrder(c echo.Context) error {
	order, err := s.ownedOrder(c)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) createReview(c echo.Context) error {
	uid, _ := userID(c)

	var req createReviewRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	order, err := s.ownedOrder(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if order.UserID != uid {
		return s.writeError(c, database.ErrOrderNotFound)
	}

	review, err := s.deps.Reviews.Create(c.Request().Context(), order.ID, uid, req.Rating, req.Comment)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, review)
}
