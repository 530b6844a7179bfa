package handlers

import (
	loggingpkg "github.com/drblury/botcomet/internal/runtime/logging"
)

// EventContextBase carries what every typed handler sees besides its payload.
type EventContextBase struct {
	Name    string
	Comet   string
	Context string
	Logger  loggingpkg.ServiceLogger
}

func newEventContextBase(ev Event, logger loggingpkg.ServiceLogger) EventContextBase {
	return EventContextBase{
		Name:    ev.Name,
		Comet:   ev.Comet,
		Context: ev.Context,
		Logger:  logger,
	}
}

// CorrelationID returns the token the Comet attached to the event.
func (b EventContextBase) CorrelationID() string {
	return b.Context
}
