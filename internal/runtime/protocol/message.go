// Package protocol defines the envelope and message vocabulary exchanged by
// the Station, Comets and Plugins. One JSON-encoded Message travels per frame.
package protocol

import (
	"encoding/json"
	"fmt"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/jsoncodec"
)

// MessageType is the closed set of envelope types.
type MessageType string

const (
	TypeCometConnect          MessageType = "comet_connect"
	TypeCometConnectResponse  MessageType = "comet_connect_response"
	TypePluginConnect         MessageType = "plugin_connect"
	TypePluginConnectResponse MessageType = "plugin_connect_response"
	TypePluginVerify          MessageType = "plugin_verify"
	TypePluginVerifyResponse  MessageType = "plugin_verify_response"
	TypeAdapterEvent          MessageType = "adapter_event"
	TypeAdapterEventResponse  MessageType = "adapter_event_response"

	// TypeStationNack is sent by the Station to the origin of a message it
	// could not route or accept.
	TypeStationNack MessageType = "station_nack"
)

// Reserved src/dst values.
const (
	// StationID addresses the Station itself.
	StationID = "STATION"
	// Unassigned marks a sender that has no station identity yet.
	Unassigned = "CONNECTION"
)

var responseTypes = map[MessageType]MessageType{
	TypeCometConnect:  TypeCometConnectResponse,
	TypePluginConnect: TypePluginConnectResponse,
	TypePluginVerify:  TypePluginVerifyResponse,
	TypeAdapterEvent:  TypeAdapterEventResponse,
}

var knownTypes = map[MessageType]struct{}{
	TypeCometConnect:          {},
	TypeCometConnectResponse:  {},
	TypePluginConnect:         {},
	TypePluginConnectResponse: {},
	TypePluginVerify:          {},
	TypePluginVerifyResponse:  {},
	TypeAdapterEvent:          {},
	TypeAdapterEventResponse:  {},
	TypeStationNack:           {},
}

// Valid reports whether t belongs to the protocol vocabulary.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ResponseType returns the type that answers a request of type t.
func (t MessageType) ResponseType() (MessageType, bool) {
	r, ok := responseTypes[t]
	return r, ok
}

// Corresponds reports whether an incoming message of type incoming may
// resolve a context created for a request of type expected. Only the paired
// response type or a station_nack qualifies; a request never answers itself.
func Corresponds(expected, incoming MessageType) bool {
	if incoming == TypeStationNack {
		return true
	}
	r, ok := expected.ResponseType()
	return ok && r == incoming
}

// Message is the envelope shared by every actor.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     string          `json:"src"`
	Dst     string          `json:"dst"`
	Context string          `json:"context,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// New builds a Message, encoding data when it is not nil.
func New(typ MessageType, src, dst, context string, data any) (Message, error) {
	msg := Message{Type: typ, Src: src, Dst: dst, Context: context}
	if data == nil {
		return msg, nil
	}
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s data: %w", typ, err)
	}
	msg.Data = raw
	return msg, nil
}

// DecodeData unmarshals the payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", errspkg.ErrMalformedEnvelope, m.Type)
	}
	if err := jsoncodec.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", errspkg.ErrMalformedEnvelope, m.Type, err)
	}
	return nil
}

// Encode renders m as a single JSON frame.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownMessageType, m.Type)
	}
	return jsoncodec.Marshal(m)
}

// Decode parses one frame. Malformed JSON and unknown types are protocol
// errors; the caller drops the frame and keeps the connection open.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := jsoncodec.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errspkg.ErrMalformedEnvelope, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", errspkg.ErrMalformedEnvelope)
	}
	if !m.Type.Valid() {
		return m, fmt.Errorf("%w: %q", errspkg.ErrUnknownMessageType, m.Type)
	}
	return m, nil
}
