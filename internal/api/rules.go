package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

// ruleInput is the writable part of a rule.
type ruleInput struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	EntityID           string `json:"entity_id"`
	EntityTypeOfChange string `json:"entity_type_of_change"`
	EntityChangeValue  string `json:"entity_change_value"`
}

func (in ruleInput) rule() entities.Rule {
	return entities.Rule{
		Name:               in.Name,
		Description:        in.Description,
		EntityID:           in.EntityID,
		EntityTypeOfChange: in.EntityTypeOfChange,
		EntityChangeValue:  in.EntityChangeValue,
	}
}

func (c *Controller) initRuleRoutes(g *echo.Group) {
	g.GET("/rules", c.ListRules)
	g.GET("/rules/:id", c.GetRule)

	protected := g.Group("", c.authMiddleware)
	protected.POST("/rules", c.CreateRule)
	protected.PUT("/rules/:id", c.UpdateRule)
	protected.DELETE("/rules/:id", c.DeleteRule)
	protected.DELETE("/rules", c.DeleteAllRules)
}

// ListRules returns all rules in id order.
func (c *Controller) ListRules(ctx echo.Context) error {
	rules, err := c.repo.ListRules(ctx.Request().Context())
	if err != nil {
		c.log.Error("failed to list rules", logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list rules"})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns one rule.
func (c *Controller) GetRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}
	rule, err := c.repo.GetRule(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Rule not found"})
		}
		c.log.Error("failed to get rule", logger.Uint64("id", uint64(id)), logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get rule"})
	}
	return ctx.JSON(http.StatusOK, rule)
}

// CreateRule stores a new rule. Fields are free-form and not validated.
func (c *Controller) CreateRule(ctx echo.Context) error {
	var in ruleInput
	if err := ctx.Bind(&in); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	rule := in.rule()
	if err := c.repo.AddRule(ctx.Request().Context(), &rule); err != nil {
		c.log.Error("failed to create rule", logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create rule"})
	}
	c.log.Info("rule created",
		logger.Uint64("id", uint64(rule.ID)),
		logger.String("entity_id", rule.EntityID))
	return ctx.JSON(http.StatusCreated, rule)
}

// UpdateRule overwrites all fields of an existing rule.
func (c *Controller) UpdateRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil || id == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}
	reqCtx := ctx.Request().Context()

	if _, err := c.repo.GetRule(reqCtx, id); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Rule not found"})
		}
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get rule"})
	}

	var in ruleInput
	if err := ctx.Bind(&in); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	rule := in.rule()
	rule.ID = id
	if err := c.repo.UpdateRule(reqCtx, &rule); err != nil {
		c.log.Error("failed to update rule", logger.Uint64("id", uint64(id)), logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update rule"})
	}
	return ctx.JSON(http.StatusOK, rule)
}

// DeleteRule removes a rule. Unknown ids succeed.
func (c *Controller) DeleteRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}
	if err := c.repo.DeleteRule(ctx.Request().Context(), id); err != nil {
		c.log.Error("failed to delete rule", logger.Uint64("id", uint64(id)), logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete rule"})
	}
	return ctx.NoContent(http.StatusNoContent)
}

// DeleteAllRules clears the rule table.
func (c *Controller) DeleteAllRules(ctx echo.Context) error {
	deleted, err := c.repo.DeleteAllRules(ctx.Request().Context())
	if err != nil {
		c.log.Error("failed to delete all rules", logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete rules"})
	}
	c.log.Info("all rules deleted", logger.Int64("deleted", deleted))
	return ctx.JSON(http.StatusOK, map[string]any{"deleted": deleted})
}
