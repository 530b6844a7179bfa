package botcomet

import (
	"context"

	"github.com/drblury/botcomet/internal/runtime/auth"
	"github.com/drblury/botcomet/internal/runtime/comet"
	configpkg "github.com/drblury/botcomet/internal/runtime/config"
	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	handlerpkg "github.com/drblury/botcomet/internal/runtime/handlers"
	jsoncodec "github.com/drblury/botcomet/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botcomet/internal/runtime/logging"
	"github.com/drblury/botcomet/internal/runtime/plugin"
	"github.com/drblury/botcomet/internal/runtime/protocol"
	"github.com/drblury/botcomet/internal/runtime/session"
	"github.com/drblury/botcomet/internal/runtime/station"
	"github.com/drblury/botcomet/transport"
)

type (
	StationConfig = configpkg.StationConfig
	CometConfig   = configpkg.CometConfig
	PluginConfig  = configpkg.PluginConfig
	Connection    = configpkg.Connection

	Station             = station.Station
	StationDependencies = station.Dependencies
	StationStats        = station.Stats

	MiddlewareBuilder      = station.MiddlewareBuilder
	MiddlewareRegistration = station.MiddlewareRegistration

	Comet      = comet.Comet
	Adapter    = comet.Adapter
	Host       = comet.Host
	Event      = comet.Event
	Obfuscator = comet.Obfuscator
	EntityKind = comet.EntityKind

	Plugin                         = plugin.Plugin
	PluginEvent                    = handlerpkg.Event
	PluginReply                    = handlerpkg.Reply
	EventHandler                   = handlerpkg.EventHandler
	EventContextBase               = handlerpkg.EventContextBase
	JSONEventContext[T any]        = handlerpkg.JSONEventContext[T]
	JSONEventOutput[O any]         = handlerpkg.JSONEventOutput[O]
	JSONEventHandler[T any, O any] = handlerpkg.JSONEventHandler[T, O]

	Prover   = auth.Prover
	Verifier = auth.Verifier

	Message     = protocol.Message
	MessageType = protocol.MessageType
	NackData    = protocol.NackData
	NackError   = session.NackError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Error     = errspkg.Error
	ErrorKind = errspkg.Kind

	TransportBuilder      = transport.Builder
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

// Entity kinds understood by the Obfuscator.
const (
	EntityGuild   = comet.Guild
	EntityChannel = comet.Channel
	EntityUser    = comet.User
	EntityMessage = comet.Message
)

const (
	KindProtocol = errspkg.KindProtocol
	KindContext  = errspkg.KindContext
	KindRouting  = errspkg.KindRouting
	KindIdentity = errspkg.KindIdentity
	KindCrypto   = errspkg.KindCrypto
	KindConfig   = errspkg.KindConfig
	KindInternal = errspkg.KindInternal
)

var (
	NewComet  = comet.New
	NewPlugin = plugin.New
	NewEvent  = comet.NewEvent

	NewObfuscator = comet.NewObfuscator

	DefaultMiddlewares      = station.DefaultMiddlewares
	CorrelationIDMiddleware = station.CorrelationIDMiddleware
	LogMessagesMiddleware   = station.LogMessagesMiddleware
	TracerMiddleware        = station.TracerMiddleware
	MetricsMiddleware       = station.MetricsMiddleware
	RecovererMiddleware     = station.RecovererMiddleware

	NewProver       = auth.NewProver
	NewVerifier     = auth.NewVerifier
	NewNonce        = auth.NewNonce
	GenerateKeyPair = auth.GenerateKeyPair

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	KindOf = errspkg.KindOf

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities

	ErrUnknownMessageType  = errspkg.ErrUnknownMessageType
	ErrMalformedEnvelope   = errspkg.ErrMalformedEnvelope
	ErrAlreadyIdentified   = errspkg.ErrAlreadyIdentified
	ErrNotIdentified       = errspkg.ErrNotIdentified
	ErrSourceMismatch      = errspkg.ErrSourceMismatch
	ErrAddressInUse        = errspkg.ErrAddressInUse
	ErrContextNotFound     = errspkg.ErrContextNotFound
	ErrContextTypeMismatch = errspkg.ErrContextTypeMismatch
	ErrContextTimeout      = errspkg.ErrContextTimeout
	ErrRouteNotFound       = errspkg.ErrRouteNotFound
	ErrIdentityViolation   = errspkg.ErrIdentityViolation
	ErrNotConnected        = errspkg.ErrNotConnected
	ErrVerificationFailed  = errspkg.ErrVerificationFailed
	ErrVerificationTimeout = errspkg.ErrVerificationTimeout
	ErrInvalidKey          = errspkg.ErrInvalidKey
	ErrStationClosed       = errspkg.ErrStationClosed
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrAdapterRequired     = errspkg.ErrAdapterRequired
	ErrAdapterLoaded       = errspkg.ErrAdapterLoaded
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrEventNameRequired   = errspkg.ErrEventNameRequired
)

// NewStation builds a Station. Call Start to begin serving.
func NewStation(ctx context.Context, conf StationConfig, log ServiceLogger, deps StationDependencies) (*Station, error) {
	return station.New(ctx, conf, log, deps)
}

// HandleJSON registers a typed handler on p. T must be a pointer type.
func HandleJSON[T any, O any](p *Plugin, name string, fn JSONEventHandler[T, O]) error {
	return plugin.HandleJSON(p, name, fn)
}
