package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

// Controller holds the handler dependencies.
type Controller struct {
	repo   repository.RuleRepository
	log    logger.Logger
	token  string
	health HealthFunc
}

// Health reports liveness, and dependency health when a check is wired.
func (c *Controller) Health(ctx echo.Context) error {
	if c.health != nil {
		if err := c.health(ctx.Request().Context()); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// authMiddleware enforces the bearer token when one is configured. The
// websocket also accepts it as the access_token query parameter, since
// browsers cannot set headers on upgrade.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.token == "" {
			return next(ctx)
		}
		presented, ok := strings.CutPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok {
			presented = ctx.QueryParam("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(c.token)) != 1 {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(ctx)
	}
}

func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
