// Package entities holds the persisted domain types.
package entities

// Rule associates a watched entity with the to-do item and notification
// created when that entity changes state.
//
// EntityTypeOfChange and EntityChangeValue are stored and returned verbatim
// but are not evaluated when matching state changes.
type Rule struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string `gorm:"type:text" json:"name"`
	Description        string `gorm:"type:text" json:"description"`
	EntityID           string `gorm:"column:entity_id;type:text" json:"entity_id"`
	EntityTypeOfChange string `gorm:"column:entity_type_of_change;type:text" json:"entity_type_of_change"`
	EntityChangeValue  string `gorm:"column:entity_change_value;type:text" json:"entity_change_value"`
}

// TableName returns the table name for GORM.
func (Rule) TableName() string {
	return "rules"
}
