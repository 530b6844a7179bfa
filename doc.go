// Package botcomet relays chat-platform events between bot hosts and the
// plugins that implement their features, without either side learning the
// other's network location or the platform's real identifiers.
//
// Three actors meet over websockets:
//   - Station: the broker. It assigns every connection an obfuscated id and
//     routes envelopes between Comets and Plugins. Inbound frames run through
//     a Watermill router so correlation ids, logging, tracing, Prometheus
//     metrics and panic recovery come for free.
//   - Comet: the bot host. It loads one platform Adapter, verifies plugins by
//     RSA challenge-response before trusting them, replaces platform ids with
//     stand-ins and fans events out to every trusted plugin.
//   - Plugin: the feature provider. It owns a key pair whose public half is its
//     stable address, answers verification challenges and runs the handlers
//     registered with Plugin.Handle or HandleJSON.
//
// A minimal setup fills StationConfig, CometConfig and PluginConfig, creates
// the actors with NewStation, NewComet and NewPlugin, starts them, and calls
// Comet.AddPlugin with the plugin's public key. See examples/basic for the
// full round trip.
//
// # Audit stream
//
// The Station can publish connection lifecycle and routing drops as JSON
// records through a Watermill transport. Pick one with
// StationConfig.AuditSystem and import the transport package, for example
// _ "github.com/drblury/botcomet/transport/nats", or all of them via
// _ "github.com/drblury/botcomet/transport/transports".
//
// # Errors
//
// Every error the runtime returns carries a Kind (protocol, context, routing,
// identity, crypto, config). Use errors.Is against the exported sentinels or
// KindOf for logging; never parse Error() strings.
package botcomet
