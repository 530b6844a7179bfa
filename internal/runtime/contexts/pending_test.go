package contexts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

func TestPending_DeliverHandsResponseToWaiter(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypePluginVerify)
	require.NoError(t, err)
	require.NotEmpty(t, p.Token)

	resp := protocol.Message{Type: protocol.TypePluginVerifyResponse, Context: p.Token, Src: "addr"}
	require.NoError(t, c.Deliver(resp))

	got, err := c.Await(context.Background(), p, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
	assert.Equal(t, 0, c.Len())
}

func TestPending_DeliverAcceptsNack(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypePluginVerify)
	require.NoError(t, err)

	require.NoError(t, c.Deliver(protocol.Message{Type: protocol.TypeStationNack, Context: p.Token}))
	got, err := c.Await(context.Background(), p, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeStationNack, got.Type)
}

func TestPending_DeliverRejectsWrongType(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypePluginVerify)
	require.NoError(t, err)

	err = c.Deliver(protocol.Message{Type: protocol.TypeCometConnectResponse, Context: p.Token})
	assert.ErrorIs(t, err, errspkg.ErrContextTypeMismatch)
	assert.Equal(t, 1, c.Len())
}

func TestPending_DeliverUnknownToken(t *testing.T) {
	c := NewCache(time.Minute)
	err := c.Deliver(protocol.Message{Type: protocol.TypeAdapterEventResponse, Context: "nope"})
	assert.ErrorIs(t, err, errspkg.ErrContextNotFound)
}

func TestPending_AwaitTimeoutAbandonsEntry(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypePluginVerify)
	require.NoError(t, err)

	_, err = c.Await(context.Background(), p, 20*time.Millisecond, nil)
	assert.ErrorIs(t, err, errspkg.ErrContextTimeout)
	assert.Equal(t, 0, c.Len())

	late := c.Deliver(protocol.Message{Type: protocol.TypePluginVerifyResponse, Context: p.Token})
	assert.ErrorIs(t, late, errspkg.ErrContextNotFound)
}

func TestPending_AwaitCancelled(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypePluginVerify)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Await(ctx, p, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())
}

func TestPending_AwaitConnectionClosed(t *testing.T) {
	c := NewCache(time.Minute)
	p, err := c.Open(protocol.TypeCometConnect)
	require.NoError(t, err)

	closed := make(chan struct{})
	close(closed)
	_, err = c.Await(context.Background(), p, time.Minute, closed)
	assert.ErrorIs(t, err, errspkg.ErrNotConnected)
}
