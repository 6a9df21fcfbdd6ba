package homeassistant

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types of the Home Assistant websocket API.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"
	typeResult       = "result"
	typeEvent        = "event"
	typeGetStates    = "get_states"
	typeSubscribe    = "subscribe_events"
	typeCallService  = "call_service"

	eventStateChanged = "state_changed"
)

// EntityState is one entity as reported by Home Assistant.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// APIError is an error result returned by Home Assistant.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant: %s: %s", e.Code, e.Message)
}

// incoming is any message received from the server.
type incoming struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
	Event   *event          `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
	Version string          `json:"ha_version,omitempty"`
}

// err returns the error carried by a failed result.
func (m incoming) err() error {
	if m.Error != nil {
		return m.Error
	}
	return &APIError{Code: "unknown_error", Message: "request failed"}
}

type event struct {
	EventType string          `json:"event_type"`
	Data      stateChangeData `json:"data"`
}

type stateChangeData struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// command is any message with an id sent to the server.
type command struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	EventType   string         `json:"event_type,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// result is delivered to a pending command.
type result struct {
	raw json.RawMessage
	err error
}
