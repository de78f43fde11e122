package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
)

// Command types.
const (
	CommandGetRules   = "get_local_todo_rules"
	CommandSetRule    = "set_local_todo_rule"
	CommandDeleteRule = "delete_local_todo_rule"
)

// Command error codes.
const (
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeInvalidFormat  = "invalid_format"
	ErrCodeStorage        = "storage_error"
)

const (
	commandWriteWait  = 10 * time.Second
	commandPongWait   = 60 * time.Second
	commandPingPeriod = (commandPongWait * 9) / 10
	commandMaxMsgSize = 64 * 1024
	statusSuccess     = "success"
)

var commandUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// command is an inbound message. Only the fields of its type are used.
type command struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	ruleInput
	RuleID *uint `json:"rule_id"`
}

// CommandResult is the reply to one command.
type CommandResult struct {
	ID      int           `json:"id"`
	Type    string        `json:"type"`
	Success bool          `json:"success"`
	Result  any           `json:"result,omitempty"`
	Error   *CommandError `json:"error,omitempty"`
}

// CommandError describes a failed command.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// commandRule is a rule as the command surface lists it, the positional row
// [id, name, description, entity_id, entity_type_of_change, entity_change_value].
type commandRule entities.Rule

// MarshalJSON implements json.Marshaler.
func (r commandRule) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ID, r.Name, r.Description, r.EntityID, r.EntityTypeOfChange, r.EntityChangeValue})
}

func commandRules(rules []entities.Rule) []commandRule {
	rows := make([]commandRule, len(rules))
	for i, r := range rules {
		rows[i] = commandRule(r)
	}
	return rows
}

func success(id int, result any) CommandResult {
	return CommandResult{ID: id, Type: "result", Success: true, Result: result}
}

func failure(id int, code, message string) CommandResult {
	return CommandResult{ID: id, Type: "result", Error: &CommandError{Code: code, Message: message}}
}

// HandleCommand executes one raw command message.
func (c *Controller) HandleCommand(ctx context.Context, raw []byte) CommandResult {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return failure(cmd.ID, ErrCodeInvalidFormat, "Message incorrectly formatted.")
	}

	switch cmd.Type {
	case CommandGetRules:
		rules, err := c.repo.ListRules(ctx)
		if err != nil {
			c.log.Error("failed to list rules", logger.Error(err))
			return failure(cmd.ID, ErrCodeStorage, err.Error())
		}
		return success(cmd.ID, map[string]any{"payload": commandRules(rules)})

	case CommandSetRule:
		rule := cmd.rule()
		if err := c.repo.AddRule(ctx, &rule); err != nil {
			c.log.Error("failed to add rule", logger.Error(err))
			return failure(cmd.ID, ErrCodeStorage, err.Error())
		}
		c.log.Info("rule created",
			logger.Uint64("id", uint64(rule.ID)),
			logger.String("entity_id", rule.EntityID))
		return success(cmd.ID, map[string]string{"status": statusSuccess})

	case CommandDeleteRule:
		if cmd.RuleID == nil {
			return failure(cmd.ID, ErrCodeInvalidFormat, "required key not provided: rule_id")
		}
		if err := c.repo.DeleteRule(ctx, *cmd.RuleID); err != nil {
			c.log.Error("failed to delete rule", logger.Uint64("id", uint64(*cmd.RuleID)), logger.Error(err))
			return failure(cmd.ID, ErrCodeStorage, err.Error())
		}
		return success(cmd.ID, map[string]string{"status": statusSuccess})

	default:
		return failure(cmd.ID, ErrCodeUnknownCommand, "Unknown command.")
	}
}

// HandleCommandWS serves commands over a websocket, one reply per message.
func (c *Controller) HandleCommandWS(ctx echo.Context) error {
	conn, err := commandUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		c.log.Warn("failed to upgrade command websocket", logger.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(commandMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(commandPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(commandPongWait))
	})

	reqCtx := ctx.Request().Context()
	replies := make(chan CommandResult)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	defer close(done)

	go func() {
		defer close(writerDone)
		c.writeLoop(conn, replies, done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("command websocket closed", logger.Error(err))
			}
			return nil
		}
		select {
		case replies <- c.HandleCommand(reqCtx, raw):
		case <-writerDone:
			return nil
		case <-reqCtx.Done():
			return nil
		}
	}
}

func (c *Controller) writeLoop(conn *websocket.Conn, replies <-chan CommandResult, done <-chan struct{}) {
	ticker := time.NewTicker(commandPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(commandWriteWait))
			if err := conn.WriteJSON(reply); err != nil {
				c.log.Debug("failed to write command reply", logger.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(commandWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
