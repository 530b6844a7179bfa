package protocol

import "encoding/json"

// PluginConnectData is the payload of plugin_connect.
type PluginConnectData struct {
	Address string `json:"address"`
}

// ConnectResponseData accompanies both *_connect_response messages. The
// assigned id is also carried in dst.
type ConnectResponseData struct {
	ClientID string `json:"client_id"`
}

// ChallengeData carries the locked challenge in plugin_verify and the
// prover's answer in plugin_verify_response.
type ChallengeData struct {
	Challenge string `json:"challenge"`
}

// EventData is the payload of adapter_event and adapter_event_response.
type EventData struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NackData explains why the Station refused a message.
type NackData struct {
	Reason string      `json:"reason"`
	Kind   string      `json:"kind"`
	Type   MessageType `json:"type"`
	Dst    string      `json:"dst,omitempty"`
}
