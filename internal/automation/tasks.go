package automation

import (
	"context"
	"fmt"
)

// ServiceCaller invokes a host service. The host client implements it.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// TaskRequest is the to-do item built for a fired rule.
type TaskRequest struct {
	EntityID    string
	Item        string
	Description string
	DueDate     string
}

// TaskCreator adds a to-do item, due tomorrow, for each fired rule.
type TaskCreator struct {
	caller   ServiceCaller
	entityID string
}

// NewTaskCreator returns a TaskCreator that writes to the to-do list
// entityID, or DefaultTodoEntityID when entityID is empty.
func NewTaskCreator(caller ServiceCaller, entityID string) *TaskCreator {
	if entityID == "" {
		entityID = DefaultTodoEntityID
	}
	return &TaskCreator{caller: caller, entityID: entityID}
}

// Request builds the to-do item for fired.
func (c *TaskCreator) Request(fired *FiredRule) TaskRequest {
	return TaskRequest{
		EntityID:    c.entityID,
		Item:        fired.Rule.Name,
		Description: fired.Rule.Description,
		DueDate:     fired.DueDate(),
	}
}

// CreateTask calls todo.add_item for fired.
func (c *TaskCreator) CreateTask(ctx context.Context, fired *FiredRule) error {
	req := c.Request(fired)
	data := map[string]any{
		attrEntityID:    req.EntityID,
		attrItem:        req.Item,
		attrDescription: req.Description,
		attrDueDate:     req.DueDate,
	}
	if err := c.caller.CallService(ctx, DomainTodo, ServiceAddItem, data); err != nil {
		return fmt.Errorf("failed to add to-do item %q: %w", req.Item, err)
	}
	return nil
}
