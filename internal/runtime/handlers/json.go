package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	jsoncodec "github.com/drblury/botcomet/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botcomet/internal/runtime/logging"
)

// JSONEventContext exposes the decoded payload of an event.
type JSONEventContext[T any] struct {
	EventContextBase
	Payload T
}

// JSONEventOutput is one reply emitted by a JSON handler.
type JSONEventOutput[O any] struct {
	Event   string
	Payload O
}

// JSONEventHandler processes a JSON payload and returns the replies to send.
type JSONEventHandler[T any, O any] func(ctx context.Context, event JSONEventContext[T]) ([]JSONEventOutput[O], error)

// BuildJSONHandler converts a typed JSON handler into an EventHandler. T must
// be a pointer type.
func BuildJSONHandler[T any, O any](handler JSONEventHandler[T, O], logger loggingpkg.ServiceLogger) (EventHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, ev Event) ([]Reply, error) {
		typed := prototypeFactory()

		if len(ev.Data) > 0 {
			if err := jsoncodec.Unmarshal(ev.Data, typed); err != nil {
				return nil, fmt.Errorf("%w: event %q payload: %v", errspkg.ErrMalformedEnvelope, ev.Name, err)
			}
		}

		outgoing, err := handler(ctx, JSONEventContext[T]{
			EventContextBase: newEventContextBase(ev, logger),
			Payload:          typed,
		})
		if err != nil {
			return nil, err
		}

		return convertJSONOutputs(outgoing)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

func convertJSONOutputs[O any](outputs []JSONEventOutput[O]) ([]Reply, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]Reply, len(outputs))
	for i, out := range outputs {
		if out.Event == "" {
			return nil, errspkg.ErrEventNameRequired
		}

		reply := Reply{Name: out.Event}
		if !isNilPayload(reflect.ValueOf(out.Payload)) {
			payload, err := jsoncodec.Marshal(out.Payload)
			if err != nil {
				return nil, err
			}
			reply.Data = payload
		}
		result[i] = reply
	}

	return result, nil
}

// isNilPayload reports whether a reply payload carries nothing to encode.
// Zero-valued structs and scalars are real data and are always encoded.
func isNilPayload(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
