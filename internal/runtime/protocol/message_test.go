package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
)

func TestMessageTypeValid(t *testing.T) {
	for _, typ := range []MessageType{
		TypeCometConnect, TypeCometConnectResponse,
		TypePluginConnect, TypePluginConnectResponse,
		TypePluginVerify, TypePluginVerifyResponse,
		TypeAdapterEvent, TypeAdapterEventResponse,
		TypeStationNack,
	} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, MessageType("message_create").Valid())
	assert.False(t, MessageType("").Valid())
}

func TestCorresponds(t *testing.T) {
	tests := []struct {
		expected, incoming MessageType
		want               bool
	}{
		{TypePluginVerify, TypePluginVerifyResponse, true},
		{TypePluginVerify, TypePluginVerify, false},
		{TypeAdapterEvent, TypeAdapterEvent, false},
		{TypeAdapterEvent, TypeAdapterEventResponse, true},
		{TypePluginVerify, TypeStationNack, true},
		{TypeCometConnect, TypeCometConnectResponse, true},
		{TypePluginConnect, TypePluginConnectResponse, true},
		{TypePluginVerify, TypeCometConnectResponse, false},
		{TypeCometConnect, TypePluginVerifyResponse, false},
		{TypeAdapterEventResponse, TypePluginVerifyResponse, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected)+"/"+string(tt.incoming), func(t *testing.T) {
			assert.Equal(t, tt.want, Corresponds(tt.expected, tt.incoming))
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	msg, err := New(TypePluginVerify, "comet-1", "addr", "ctx-1", ChallengeData{Challenge: "locked"})
	require.NoError(t, err)

	frame, err := Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"plugin_verify","src":"comet-1","dst":"addr","context":"ctx-1","data":{"challenge":"locked"}}`, string(frame))

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, TypePluginVerify, decoded.Type)
	assert.Equal(t, "comet-1", decoded.Src)
	assert.Equal(t, "addr", decoded.Dst)
	assert.Equal(t, "ctx-1", decoded.Context)

	var data ChallengeData
	require.NoError(t, decoded.DecodeData(&data))
	assert.Equal(t, "locked", data.Challenge)
}

func TestNewWithoutData(t *testing.T) {
	msg, err := New(TypeCometConnect, Unassigned, StationID, "ctx", nil)
	require.NoError(t, err)
	assert.Nil(t, msg.Data)

	frame, err := Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"comet_connect","src":"CONNECTION","dst":"STATION","context":"ctx"}`, string(frame))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"invalid json", `{"type":`, errspkg.ErrMalformedEnvelope},
		{"missing type", `{"src":"a","dst":"b"}`, errspkg.ErrMalformedEnvelope},
		{"unknown type", `{"type":"message_create","src":"a","dst":"b"}`, errspkg.ErrUnknownMessageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, errspkg.KindProtocol, errspkg.KindOf(err))
		})
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(Message{Type: "bogus"})
	assert.ErrorIs(t, err, errspkg.ErrUnknownMessageType)
}

func TestDecodeDataErrors(t *testing.T) {
	var data ChallengeData

	err := Message{Type: TypePluginVerify}.DecodeData(&data)
	assert.ErrorIs(t, err, errspkg.ErrMalformedEnvelope)

	err = Message{Type: TypePluginVerify, Data: []byte(`"oops"`)}.DecodeData(&data)
	assert.ErrorIs(t, err, errspkg.ErrMalformedEnvelope)
}

func TestEventDataKeepsRawPayload(t *testing.T) {
	msg, err := New(TypeAdapterEvent, "comet", "addr", "", EventData{
		Event: "message_create",
		Data:  []byte(`{"id":"obf-1","content":"hi"}`),
	})
	require.NoError(t, err)

	var ev EventData
	require.NoError(t, msg.DecodeData(&ev))
	assert.Equal(t, "message_create", ev.Event)
	assert.JSONEq(t, `{"id":"obf-1","content":"hi"}`, string(ev.Data))
}
