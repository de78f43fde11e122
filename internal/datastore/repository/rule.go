// Package repository implements rule persistence on top of GORM.
package repository

import (
	"context"
	"errors"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
)

// ErrRuleNotFound is returned by GetRule when no rule has the given id.
var ErrRuleNotFound = errors.New("rule not found")

// RuleRepository handles rule CRUD.
type RuleRepository interface {
	// AddRule inserts rule and sets rule.ID to the assigned id.
	// Any id already set on rule is ignored.
	AddRule(ctx context.Context, rule *entities.Rule) error
	// ListRules returns every rule in insertion order.
	ListRules(ctx context.Context) ([]entities.Rule, error)
	GetRule(ctx context.Context, id uint) (*entities.Rule, error)
	// UpdateRule overwrites all fields of the rule with rule.ID.
	// A missing id is not an error.
	UpdateRule(ctx context.Context, rule *entities.Rule) error
	// DeleteRule removes the rule with id. A missing id is not an error.
	DeleteRule(ctx context.Context, id uint) error
	// DeleteAllRules clears the table and reports how many rows went.
	DeleteAllRules(ctx context.Context) (int64, error)
}
