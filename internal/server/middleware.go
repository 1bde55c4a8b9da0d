package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/safar/storefront/internal/models"
)

// Identity is asserted by the auth layer in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const (
	ctxUserIDKey = "user_id"
	ctxRoleKey   = "role"
)

// identity copies the caller's identity headers into the echo context. It
// never rejects; requireUser and requireAdmin do that per route.
func identity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(HeaderUserID)
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			c.Set(ctxUserIDKey, id)

			role := c.Request().Header.Get(HeaderUserRole)
			if role != models.RoleAdmin {
				role = models.RoleUser
			}
			c.Set(ctxRoleKey, role)
		}
		return next(c)
	}
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := userID(c); !ok {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		}
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !isAdmin(c) {
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
		}
		return next(c)
	}
}

func userID(c echo.Context) (int64, bool) {
	id, ok := c.Get(ctxUserIDKey).(int64)
	return id, ok && id > 0
}

func isAdmin(c echo.Context) bool {
	role, _ := c.Get(ctxRoleKey).(string)
	return role == models.RoleAdmin
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		fields := []zap.Field{
			zap.String("request_id", requestID(c)),
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		}
		if id, ok := userID(c); ok {
			fields = append(fields, zap.Int64("user_id", id))
		}

		switch status := c.Response().Status; {
		case status >= 500:
			s.logger.Error("request", fields...)
		case status >= 400:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
		return nil
	}
}
