package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload indicates an event payload that cannot be decoded for
// its declared type. Projectors quarantine such events instead of retrying.
var ErrMalformedPayload = errors.New("malformed event payload")

// decoders maps each journal event type to a strict payload decoder.
var decoders = map[Type]func([]byte) (any, error){
	TypePhaseSet:         decodeInto[PhaseSetPayload],
	TypeProcessSet:       decodeInto[ProcessSetPayload],
	TypeStageAdvanced:    decodeInto[StageAdvancedPayload],
	TypeProcessCompleted: decodeInto[ProcessCompletedPayload],
}

func decodeInto[P any](raw []byte) (any, error) {
	var payload P
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Known reports whether the event type has a registered payload decoder.
func Known(t Type) bool {
	_, ok := decoders[t]
	return ok
}

// Types returns all registered journal event types.
func Types() []Type {
	types := make([]Type, 0, len(decoders))
	for t := range decoders {
		types = append(types, t)
	}
	return types
}

// DecodePayload decodes the typed payload for an event. Unknown types and
// undecodable payloads return an error wrapping ErrMalformedPayload.
func DecodePayload(evt Event) (any, error) {
	decode, ok := decoders[evt.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedPayload, evt.Type)
	}
	payload, err := decode(evt.PayloadJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, evt.Type, err)
	}
	return payload, nil
}

// ValidateForAppend checks the envelope invariants the journal relies on and
// verifies the payload round-trips for the declared type.
func ValidateForAppend(evt Event) error {
	if strings.TrimSpace(evt.CompanyProductID) == "" {
		return fmt.Errorf("company product id is required")
	}
	if !evt.Type.IsValid() {
		return fmt.Errorf("event type is required")
	}
	if !Known(evt.Type) {
		return fmt.Errorf("unknown event type %q", evt.Type)
	}
	switch evt.ActorType {
	case ActorTypeSystem, ActorTypeUser:
	default:
		return fmt.Errorf("invalid actor type %q", evt.ActorType)
	}
	if _, err := DecodePayload(evt); err != nil {
		return err
	}
	return nil
}

// MarshalPayload encodes a typed payload for storage on the envelope.
func MarshalPayload(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return raw, nil
}
