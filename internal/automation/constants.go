package automation

// Host to-do service.
const (
	DomainTodo     = "todo"
	ServiceAddItem = "add_item"
)

// DefaultTodoEntityID is the to-do list that receives created tasks when
// none is configured.
const DefaultTodoEntityID = "todo.automatizovane"

// todo.add_item service data keys.
const (
	attrEntityID    = "entity_id"
	attrItem        = "item"
	attrDescription = "description"
	attrDueDate     = "due_date"
)

// dueDateLayout is the ISO calendar date the host expects for due_date.
const dueDateLayout = "2006-01-02"

const (
	// defaultBusBufferSize is the capacity of the state event channel.
	defaultBusBufferSize = 256
)
