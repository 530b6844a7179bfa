package comet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/logging"
)

type lifecycleAdapter struct {
	mu        sync.Mutex
	calls     []string
	host      Host
	enableErr error
}

func (a *lifecycleAdapter) Enable(_ context.Context, host Host) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "enable")
	a.host = host
	return a.enableErr
}

func (a *lifecycleAdapter) Disable(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "disable")
	return nil
}

func (a *lifecycleAdapter) Dispatch(context.Context, Event) error { return nil }

func (a *lifecycleAdapter) history() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func newTestComet(t *testing.T) *Comet {
	t.Helper()
	c, err := New(config.CometConfig{PlatformToken: "secret-token"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(config.CometConfig{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(config.CometConfig{Connection: config.Connection{StationURL: "http://station"}}, logging.NewNopLogger())
	require.Error(t, err)
	assert.Equal(t, errspkg.KindConfig, errspkg.KindOf(err))
}

func TestNew_RejectsVerifyTimeoutBeyondContextTTL(t *testing.T) {
	_, err := New(config.CometConfig{VerifyTimeout: time.Minute, ContextTTL: time.Second}, logging.NewNopLogger())
	require.Error(t, err)
	assert.Equal(t, errspkg.KindConfig, errspkg.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds context ttl")
}

func TestComet_NotConnectedBeforeStart(t *testing.T) {
	c := newTestComet(t)

	assert.Empty(t, c.Identity())
	assert.False(t, c.Connected())
	assert.Nil(t, c.Done())
	assert.NoError(t, c.Close())
}

func TestAddPlugin_BeforeStart(t *testing.T) {
	c := newTestComet(t)
	ok, err := c.AddPlugin(context.Background(), []byte("irrelevant"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, errspkg.ErrIdentityViolation)
}

func TestEmit_BeforeIdentityPanics(t *testing.T) {
	c := newTestComet(t)

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected Emit to panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, errspkg.ErrIdentityViolation))
	}()
	_ = c.Emit(context.Background(), Event{Name: "message_create"})
}

func TestLoadAdapter_Lifecycle(t *testing.T) {
	c := newTestComet(t)
	first := &lifecycleAdapter{}
	second := &lifecycleAdapter{}

	require.NoError(t, c.LoadAdapter(context.Background(), "first", first))
	assert.Equal(t, "first", c.CurrentAdapter())
	assert.Equal(t, []string{"enable"}, first.history())
	assert.Equal(t, "secret-token", first.host.PlatformToken())
	assert.Same(t, c.Obfuscator(), first.host.Obfuscator())

	require.NoError(t, c.LoadAdapter(context.Background(), "second", second))
	assert.Equal(t, "second", c.CurrentAdapter())
	assert.Equal(t, []string{"enable", "disable"}, first.history())
	assert.Equal(t, []string{"enable"}, second.history())

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"enable", "disable"}, second.history())
	assert.Empty(t, c.CurrentAdapter())
}

func TestLoadAdapter_Rejections(t *testing.T) {
	c := newTestComet(t)

	assert.ErrorIs(t, c.LoadAdapter(context.Background(), "nil", nil), errspkg.ErrAdapterRequired)

	require.NoError(t, c.LoadAdapter(context.Background(), "discord", &lifecycleAdapter{}))
	err := c.LoadAdapter(context.Background(), "discord", &lifecycleAdapter{})
	assert.ErrorIs(t, err, errspkg.ErrAdapterLoaded)
	assert.Equal(t, "discord", c.CurrentAdapter())
}

func TestLoadAdapter_EnableFailure(t *testing.T) {
	c := newTestComet(t)
	broken := &lifecycleAdapter{enableErr: errors.New("login refused")}

	err := c.LoadAdapter(context.Background(), "broken", broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login refused")
	assert.Empty(t, c.CurrentAdapter())

	// The name was not taken by the failed attempt.
	require.NoError(t, c.LoadAdapter(context.Background(), "broken", &lifecycleAdapter{}))
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("message_create", map[string]string{"content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "message_create", ev.Name)
	assert.JSONEq(t, `{"content":"hi"}`, string(ev.Data))

	var decoded struct {
		Content string `json:"content"`
	}
	require.NoError(t, ev.Decode(&decoded))
	assert.Equal(t, "hi", decoded.Content)

	_, err = NewEvent("", nil)
	assert.ErrorIs(t, err, errspkg.ErrEventNameRequired)

	empty, err := NewEvent("typing", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, empty.Decode(&decoded), errspkg.ErrMalformedEnvelope)
	assert.Equal(t, json.RawMessage(nil), empty.Data)
}

func TestTrustedPlugins_Sorted(t *testing.T) {
	c := newTestComet(t)
	c.trusted["b"] = nil
	c.trusted["a"] = nil

	assert.Equal(t, []string{"a", "b"}, c.TrustedPlugins())
	assert.True(t, c.IsTrusted("a"))
	assert.True(t, c.RemovePlugin("a"))
	assert.False(t, c.RemovePlugin("a"))
	assert.Equal(t, []string{"b"}, c.TrustedPlugins())
}
