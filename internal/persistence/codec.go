package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/petrijr/reportflow/pkg/api"
)

// Codec serializes instance snapshots and events for a backend.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec stores records as JSON. The SQL backends use it so the state
// column stays readable with plain SQL tooling.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode failed: %w", err)
	}
	return nil
}

func (JSONCodec) Name() string { return "json" }

// MsgpackCodec stores records as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode failed: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack decode failed: %w", err)
	}
	return nil
}

func (MsgpackCodec) Name() string { return "msgpack" }

func encodeInstance(c Codec, inst *api.WorkflowInstance) ([]byte, error) {
	return c.Marshal(inst)
}

func decodeInstance(c Codec, data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var inst api.WorkflowInstance
	if err := c.Unmarshal(data, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}
