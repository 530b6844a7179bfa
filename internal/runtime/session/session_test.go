package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/wire"
)

// scriptedStation answers every frame with whatever reply returns. A nil
// reply sends nothing.
func scriptedStation(t *testing.T, reply func(protocol.Message) []protocol.Message) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := wire.New(ws, wire.Options{})
		defer conn.Close()
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			m, err := protocol.Decode(frame)
			if err != nil {
				continue
			}
			for _, out := range reply(m) {
				if err := conn.Send(out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func acceptAs(id string) func(protocol.Message) []protocol.Message {
	return func(m protocol.Message) []protocol.Message {
		if m.Type != protocol.TypeCometConnect {
			return nil
		}
		resp, _ := protocol.New(protocol.TypeCometConnectResponse, protocol.StationID, id, m.Context, protocol.ConnectResponseData{ClientID: id})
		return []protocol.Message{resp}
	}
}

func dialTest(t *testing.T, url string, handler Handler) *Session {
	t.Helper()
	if handler == nil {
		handler = func(protocol.Message) {}
	}
	s, err := Dial(context.Background(), Options{
		Connection: config.Connection{StationURL: url, ConnectTimeout: 2 * time.Second},
		Handler:    handler,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDial_RequiresHandler(t *testing.T) {
	_, err := Dial(context.Background(), Options{})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), Options{
		Connection: config.Connection{StationURL: "ws://127.0.0.1:1/", ConnectTimeout: time.Second},
		Handler:    func(protocol.Message) {},
	})
	assert.ErrorIs(t, err, errspkg.ErrNotConnected)
}

func TestIdentify_AdoptsAssignedID(t *testing.T) {
	s := dialTest(t, scriptedStation(t, acceptAs("comet-1")), nil)
	assert.False(t, s.Connected())

	id, err := s.Identify(context.Background(), protocol.TypeCometConnect, nil)
	require.NoError(t, err)
	assert.Equal(t, "comet-1", id)
	assert.Equal(t, "comet-1", s.ID())
	assert.True(t, s.Connected())

	_, err = s.Identify(context.Background(), protocol.TypeCometConnect, nil)
	assert.ErrorIs(t, err, errspkg.ErrAlreadyIdentified)
}

func TestIdentify_NoResponse(t *testing.T) {
	url := scriptedStation(t, func(protocol.Message) []protocol.Message { return nil })
	s, err := Dial(context.Background(), Options{
		Connection: config.Connection{StationURL: url, ConnectTimeout: 50 * time.Millisecond},
		Handler:    func(protocol.Message) {},
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Identify(context.Background(), protocol.TypeCometConnect, nil)
	assert.ErrorIs(t, err, errspkg.ErrNotConnected)
	assert.Empty(t, s.ID())
}

func TestIdentify_RejectsSentinelID(t *testing.T) {
	s := dialTest(t, scriptedStation(t, acceptAs(protocol.StationID)), nil)

	_, err := s.Identify(context.Background(), protocol.TypeCometConnect, nil)
	assert.ErrorIs(t, err, errspkg.ErrMalformedEnvelope)
}

func TestRequest_NackBecomesError(t *testing.T) {
	url := scriptedStation(t, func(m protocol.Message) []protocol.Message {
		nack, _ := protocol.New(protocol.TypeStationNack, protocol.StationID, m.Src, m.Context, protocol.NackData{
			Reason: "destination not registered",
			Kind:   string(errspkg.KindRouting),
			Type:   m.Type,
			Dst:    m.Dst,
		})
		return []protocol.Message{nack}
	})
	s := dialTest(t, url, nil)

	req, err := protocol.New(protocol.TypePluginVerify, "me", "nobody", "", protocol.ChallengeData{Challenge: "x"})
	require.NoError(t, err)
	_, err = s.Request(context.Background(), req, time.Second)

	var nack *NackError
	require.ErrorAs(t, err, &nack)
	assert.Equal(t, "nobody", nack.Nack.Dst)
	assert.Equal(t, errspkg.KindRouting, errspkg.KindOf(err))
	assert.Contains(t, err.Error(), "station refused plugin_verify")
}

func TestReadLoop_UncorrelatedMessagesReachHandler(t *testing.T) {
	url := scriptedStation(t, func(m protocol.Message) []protocol.Message {
		if m.Type != protocol.TypeAdapterEvent {
			return nil
		}
		// Echo back as if a plugin answered with a token nobody registered.
		resp, _ := protocol.New(protocol.TypeAdapterEventResponse, "addr", m.Src, "untracked", protocol.EventData{Event: "pong"})
		return []protocol.Message{resp}
	})
	got := make(chan protocol.Message, 1)
	s := dialTest(t, url, func(m protocol.Message) { got <- m })

	ev, err := protocol.New(protocol.TypeAdapterEvent, "me", "addr", "", protocol.EventData{Event: "ping"})
	require.NoError(t, err)
	require.NoError(t, s.Send(ev))

	select {
	case m := <-got:
		assert.Equal(t, protocol.TypeAdapterEventResponse, m.Type)
		assert.Equal(t, "untracked", m.Context)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestClose_UnblocksRequests(t *testing.T) {
	s := dialTest(t, scriptedStation(t, func(protocol.Message) []protocol.Message { return nil }), nil)

	errCh := make(chan error, 1)
	go func() {
		req, _ := protocol.New(protocol.TypePluginVerify, "me", "addr", "", protocol.ChallengeData{Challenge: "x"})
		_, err := s.Request(context.Background(), req, 0)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errspkg.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("request still blocked after Close")
	}
	assert.False(t, s.Connected())
}
