package api

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type documentsPayload struct {
	Documents []string `json:"documents"`
}

func TestValidatePayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := SignalPayload{InputType: "planning_documents", UserID: 3}
	require.NoError(t, ValidatePayload(&p, now))
	require.Equal(t, "2026-03-01T12:00:00Z", p.Timestamp)

	missingType := SignalPayload{UserID: 3}
	err := ValidatePayload(&missingType, now)
	require.True(t, IsValidationError(err))

	badUser := SignalPayload{InputType: "x"}
	require.True(t, IsValidationError(ValidatePayload(&badUser, now)))

	badTime := SignalPayload{InputType: "x", UserID: 1, Timestamp: "yesterday"}
	require.True(t, IsValidationError(ValidatePayload(&badTime, now)))
}

func TestTypedSchema(t *testing.T) {
	schema := TypedSchema("planning_documents", func(p documentsPayload) error {
		if len(p.Documents) == 0 {
			return errors.New("documents must not be empty")
		}
		return nil
	})

	ok := SignalPayload{InputType: "planning_documents", Data: Data{"documents": []any{"a.pdf"}}}
	require.NoError(t, schema.Check("submit_planning_documents", ok))

	wrongType := SignalPayload{InputType: "attributes", Data: ok.Data}
	err := schema.Check("submit_planning_documents", wrongType)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "input_type", verr.Field)

	empty := SignalPayload{InputType: "planning_documents", Data: Data{"documents": []any{}}}
	require.ErrorAs(t, schema.Check("submit_planning_documents", empty), &verr)
	require.Equal(t, "data", verr.Field)

	unknown := SignalPayload{InputType: "planning_documents", Data: Data{"documents": []any{"a"}, "extra": 1}}
	require.True(t, IsValidationError(schema.Check("submit_planning_documents", unknown)))
}

func TestEncodeDecodeData(t *testing.T) {
	d, err := EncodeData(documentsPayload{Documents: []string{"a", "b"}})
	require.NoError(t, err)

	back, err := DecodeData[documentsPayload](d)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, back.Documents)
}
