package session

import (
	"fmt"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

// NackError reports that the Station refused a request.
type NackError struct {
	Nack protocol.NackData
}

func newNackError(m protocol.Message) error {
	var data protocol.NackData
	if err := m.DecodeData(&data); err != nil {
		data.Reason = "station refused the request"
	}
	return &NackError{Nack: data}
}

func (e *NackError) Error() string {
	return fmt.Sprintf("station refused %s: %s", e.Nack.Type, e.Nack.Reason)
}

// Unwrap exposes the refusal's kind so errspkg.KindOf classifies it.
func (e *NackError) Unwrap() error {
	kind := errspkg.Kind(e.Nack.Kind)
	if kind == "" {
		kind = errspkg.KindRouting
	}
	return errspkg.New(kind, e.Nack.Reason)
}
