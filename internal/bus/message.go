// Package bus carries hotkey notifications over a websocket message bus.
//
// # Wire format
//
// Every frame is a JSON text message:
//
//	{"type": "mycroft.mic.listen", "data": {}, "context": {"source": "hotkeyd", "message_id": "<uuid>"}}
//
// type is the notification identifier. Hub control frames use the
// reserved "hotkeyd.bus." prefix; their data carries {"types": [...]}.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SourceName is stamped into the context of messages this process creates.
const SourceName = "hotkeyd"

// Control message types understood by the hub.
const (
	controlPrefix   = "hotkeyd.bus."
	SubscribeType   = controlPrefix + "subscribe"
	UnsubscribeType = controlPrefix + "unsubscribe"
	SubscribedType  = controlPrefix + "subscribed"
	ErrorType       = controlPrefix + "error"
)

// Message is one bus frame.
type Message struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

// NewMessage builds a message with a fresh message id.
func NewMessage(msgType string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{
		Type: msgType,
		Data: data,
		Context: map[string]any{
			"source":     SourceName,
			"message_id": uuid.NewString(),
		},
	}
}

// ID returns the message id from the context, or "".
func (m Message) ID() string {
	id, _ := m.Context["message_id"].(string)
	return id
}

// IsControl reports whether m is a hub control frame.
func (m Message) IsControl() bool {
	return strings.HasPrefix(m.Type, controlPrefix)
}

// Encode serializes m.
func (m Message) Encode() ([]byte, error) {
	if m.Type == "" {
		return nil, errors.New("bus: message type is empty")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	return json.Marshal(m)
}

// Decode parses one frame. Missing data and context become empty maps.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("bus: decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, errors.New("bus: message has no type")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	return m, nil
}

// typesOf reads the {"types": [...]} payload of a control frame.
func typesOf(m Message) ([]string, error) {
	raw, ok := m.Data["types"].([]any)
	if !ok {
		return nil, fmt.Errorf("%s: data.types must be a list of strings", m.Type)
	}
	types := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%s: data.types must be a list of non-empty strings", m.Type)
		}
		types = append(types, s)
	}
	return types, nil
}

// SubscribeMessage builds a control frame restricting delivery to types.
func SubscribeMessage(types ...string) Message {
	return NewMessage(SubscribeType, map[string]any{"types": toAny(types)})
}

// UnsubscribeMessage builds a control frame removing types from the filter.
func UnsubscribeMessage(types ...string) Message {
	return NewMessage(UnsubscribeType, map[string]any{"types": toAny(types)})
}

func toAny(types []string) []any {
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = t
	}
	return out
}
