// Package cloudevents renders Station audit records as CloudEvents v1.0
// structured-mode JSON so any CloudEvents consumer can read the stream.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	idspkg "github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is the datacontenttype of every event built by New.
const ContentTypeJSON = "application/json"

// ExtCorrelationID ties an event to the Station frame that caused it.
const ExtCorrelationID = "correlationid"

var knownAttrs = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"subject":         true,
	"data":            true,
}

// Event is a CloudEvents v1.0 event with a JSON payload. Extensions are
// limited to string values.
type Event struct {
	SpecVersion     string
	Type            string
	Source          string
	ID              string
	Time            time.Time
	DataContentType string
	Subject         string
	Data            json.RawMessage
	Extensions      map[string]string
}

// New encodes data and returns an event with a ULID id and the current time.
func New(eventType, source string, data any) (Event, error) {
	evt := Event{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          idspkg.CreateULID(),
		Time:        time.Now().UTC(),
	}
	if data == nil {
		return evt, nil
	}
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s data: %w", eventType, err)
	}
	evt.DataContentType = ContentTypeJSON
	evt.Data = raw
	return evt, nil
}

// WithSubject sets the subject and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = subject
	return e
}

// WithExtension sets an extension attribute and returns the event. The map
// is copied so events derived from one another do not share state.
func (e Event) WithExtension(key, value string) Event {
	ext := make(map[string]string, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[key] = value
	e.Extensions = ext
	return e
}

// Extension returns the named extension, or "".
func (e Event) Extension(key string) string {
	return e.Extensions[key]
}

// DecodeData unmarshals the payload into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: event %s carries no data", errspkg.ErrMalformedEnvelope, e.ID)
	}
	return jsoncodec.Unmarshal(e.Data, v)
}

// Validate checks the required attributes and extension naming rules.
func (e Event) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("%w: specversion must be %q, got %q", errspkg.ErrMalformedEnvelope, SpecVersion, e.SpecVersion)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", errspkg.ErrMalformedEnvelope)
	case e.Source == "":
		return fmt.Errorf("%w: source is required", errspkg.ErrMalformedEnvelope)
	case e.ID == "":
		return fmt.Errorf("%w: id is required", errspkg.ErrMalformedEnvelope)
	}
	for k := range e.Extensions {
		if !validExtensionName(k) || knownAttrs[k] {
			return fmt.Errorf("%w: invalid extension name %q", errspkg.ErrMalformedEnvelope, k)
		}
	}
	return nil
}

// Extension names are lower-case alphanumerics, at most 20 characters.
func validExtensionName(name string) bool {
	if name == "" || len(name) > 20 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// MarshalJSON renders the structured-mode document with extensions flattened
// into the top level.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8+len(e.Extensions))
	for k, v := range e.Extensions {
		m[k] = v
	}

	m["specversion"] = e.SpecVersion
	m["type"] = e.Type
	m["source"] = e.Source
	m["id"] = e.ID
	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != "" {
		m["datacontenttype"] = e.DataContentType
	}
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	if len(e.Data) > 0 {
		m["data"] = e.Data
	}
	return jsoncodec.Marshal(m)
}

// UnmarshalJSON parses a structured-mode document. Unknown top-level members
// become extensions; non-string extension values keep their JSON text.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}

	*e = Event{}
	attrs := map[string]*string{
		"specversion":     &e.SpecVersion,
		"type":            &e.Type,
		"source":          &e.Source,
		"id":              &e.ID,
		"datacontenttype": &e.DataContentType,
		"subject":         &e.Subject,
	}
	for key, dst := range attrs {
		if raw, ok := m[key]; ok {
			if err := jsoncodec.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}

	if raw, ok := m["time"]; ok {
		var ts string
		if err := jsoncodec.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fmt.Errorf("invalid time format: %w", err)
		}
		e.Time = t
	}
	if raw, ok := m["data"]; ok {
		e.Data = append(json.RawMessage(nil), raw...)
	}

	for k, raw := range m {
		if knownAttrs[k] {
			continue
		}
		if e.Extensions == nil {
			e.Extensions = make(map[string]string)
		}
		var s string
		if err := jsoncodec.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		e.Extensions[k] = s
	}
	return nil
}
