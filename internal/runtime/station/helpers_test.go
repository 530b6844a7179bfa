package station

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botcomet/internal/runtime/config"
	"github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/wire"
)

const waitTimeout = 5 * time.Second

func testConfig() config.StationConfig {
	return config.StationConfig{ListenAddress: "127.0.0.1:0"}
}

func startStation(t *testing.T, conf config.StationConfig, deps Dependencies) *Station {
	t.Helper()

	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	s, err := New(context.Background(), conf, logging.NewNopLogger(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("station stopped before ready: %v", err)
	case <-time.After(waitTimeout):
		cancel()
		t.Fatal("station did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(waitTimeout):
			t.Error("station did not stop")
		}
	})
	return s
}

type testClient struct {
	t      *testing.T
	conn   *wire.Conn
	frames chan []byte
	id     string
}

func dial(t *testing.T, s *Station) *testClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, err := wire.Dial(ctx, "ws://"+s.Addr().String()+"/", wire.Options{})
	require.NoError(t, err)

	c := &testClient{t: t, conn: conn, frames: make(chan []byte, 32), id: protocol.Unassigned}
	go func() {
		defer close(c.frames)
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			c.frames <- frame
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) send(typ protocol.MessageType, src, dst, token string, data any) {
	c.t.Helper()
	m, err := protocol.New(typ, src, dst, token, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Send(m))
}

func (c *testClient) expect() protocol.Message {
	c.t.Helper()
	select {
	case frame, ok := <-c.frames:
		require.True(c.t, ok, "connection closed while waiting for a frame")
		m, err := protocol.Decode(frame)
		require.NoError(c.t, err)
		return m
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for a frame")
		return protocol.Message{}
	}
}

func (c *testClient) expectNone(d time.Duration) {
	c.t.Helper()
	select {
	case frame, ok := <-c.frames:
		if ok {
			c.t.Fatalf("unexpected frame: %s", frame)
		}
	case <-time.After(d):
	}
}

func (c *testClient) expectNack(token string) protocol.NackData {
	c.t.Helper()
	m := c.expect()
	require.Equal(c.t, protocol.TypeStationNack, m.Type)
	require.Equal(c.t, protocol.StationID, m.Src)
	require.Equal(c.t, token, m.Context)

	var nack protocol.NackData
	require.NoError(c.t, m.DecodeData(&nack))
	return nack
}

func (c *testClient) identifyComet() string {
	c.t.Helper()
	c.send(protocol.TypeCometConnect, protocol.Unassigned, protocol.StationID, "comet-ctx", nil)

	m := c.expect()
	require.Equal(c.t, protocol.TypeCometConnectResponse, m.Type)
	require.Equal(c.t, "comet-ctx", m.Context)

	var data protocol.ConnectResponseData
	require.NoError(c.t, m.DecodeData(&data))
	require.Equal(c.t, m.Dst, data.ClientID)
	c.id = data.ClientID
	return c.id
}

func (c *testClient) identifyPlugin(address string) string {
	c.t.Helper()
	c.send(protocol.TypePluginConnect, protocol.Unassigned, protocol.StationID, "plugin-ctx", protocol.PluginConnectData{Address: address})

	m := c.expect()
	require.Equal(c.t, protocol.TypePluginConnectResponse, m.Type)
	require.Equal(c.t, "plugin-ctx", m.Context)

	var data protocol.ConnectResponseData
	require.NoError(c.t, m.DecodeData(&data))
	require.Equal(c.t, m.Dst, data.ClientID)
	c.id = data.ClientID
	return c.id
}
