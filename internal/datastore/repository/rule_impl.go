package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"gorm.io/gorm"
)

// ruleRepository implements RuleRepository.
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) AddRule(ctx context.Context, rule *entities.Rule) error {
	rule.ID = 0
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to add rule: %w", err)
	}
	return nil
}

func (r *ruleRepository) ListRules(ctx context.Context) ([]entities.Rule, error) {
	rules := make([]entities.Rule, 0)
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) GetRule(ctx context.Context, id uint) (*entities.Rule, error) {
	var rule entities.Rule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &rule, nil
}

func (r *ruleRepository) UpdateRule(ctx context.Context, rule *entities.Rule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update rule: missing rule ID")
	}
	// A map is used so empty strings overwrite stored values too.
	result := r.db.WithContext(ctx).Model(&entities.Rule{}).Where("id = ?", rule.ID).Updates(map[string]any{
		"name":                  rule.Name,
		"description":           rule.Description,
		"entity_id":             rule.EntityID,
		"entity_type_of_change": rule.EntityTypeOfChange,
		"entity_change_value":   rule.EntityChangeValue,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, result.Error)
	}
	return nil
}

func (r *ruleRepository) DeleteRule(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&entities.Rule{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	return nil
}

func (r *ruleRepository) DeleteAllRules(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&entities.Rule{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete all rules: %w", result.Error)
	}
	return result.RowsAffected, nil
}
