package api

import (
	"bytes"
	"encoding/json"
	"time"
)

// SignalPayload is the body of a signal delivered to an instance.
type SignalPayload struct {
	InputType string `json:"input_type" msgpack:"input_type"`
	Data      Data   `json:"data" msgpack:"data"`
	UserID    int64  `json:"user_id" msgpack:"user_id"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
}

// Clone copies the payload data.
func (p SignalPayload) Clone() SignalPayload {
	p.Data = p.Data.Clone()
	return p
}

// Signal is a buffered, not yet consumed signal.
type Signal struct {
	Name       string        `json:"name" msgpack:"name"`
	InstanceID string        `json:"instance_id" msgpack:"instance_id"`
	Payload    SignalPayload `json:"payload" msgpack:"payload"`
	ReceivedAt time.Time     `json:"received_at" msgpack:"received_at"`
}

// SignalSchema validates the payload of one signal name. The pipeline holds
// one schema per signal name; together they form the tagged union of
// accepted signal payloads.
type SignalSchema struct {
	// InputType, when set, must equal SignalPayload.InputType.
	InputType string

	// Validate checks the structured data. Nil accepts any data.
	Validate func(Data) error
}

// Check validates p against the schema for signal name.
func (s SignalSchema) Check(name string, p SignalPayload) error {
	if s.InputType != "" && p.InputType != s.InputType {
		return &ValidationError{
			Field:  "input_type",
			Reason: "signal " + name + " expects input_type " + s.InputType + ", got " + quote(p.InputType),
		}
	}
	if s.Validate == nil {
		return nil
	}
	if err := s.Validate(p.Data); err != nil {
		return &ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

// TypedSchema builds a SignalSchema whose data must strictly decode into T.
// Unknown fields are rejected. validate may be nil.
func TypedSchema[T any](inputType string, validate func(T) error) SignalSchema {
	return SignalSchema{
		InputType: inputType,
		Validate: func(d Data) error {
			v, err := DecodeData[T](d)
			if err != nil {
				return err
			}
			if validate != nil {
				return validate(v)
			}
			return nil
		},
	}
}

// DecodeData converts a structured payload into T using its JSON form.
func DecodeData[T any](d Data) (T, error) {
	var out T
	raw, err := json.Marshal(d)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// EncodeData converts v into a structured payload using its JSON form.
func EncodeData(v any) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// ValidatePayload applies the checks every signal payload must pass
// regardless of its schema, and fills in a missing timestamp.
func ValidatePayload(p *SignalPayload, now time.Time) error {
	if p.InputType == "" {
		return &ValidationError{Field: "input_type", Reason: "is required"}
	}
	if p.UserID <= 0 {
		return &ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	if p.Timestamp == "" {
		p.Timestamp = now.UTC().Format(time.RFC3339)
		return nil
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		return &ValidationError{Field: "timestamp", Reason: "must be RFC 3339"}
	}
	return nil
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}
