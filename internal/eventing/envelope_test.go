package eventing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleEvent struct {
	DeviceID   int64     `json:"device_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (sampleEvent) EventType() string { return "sample_event" }

type untypedEvent struct {
	Value int `json:"value"`
}

func TestBuildEnvelopeDefaults(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("x", 3600))
	env, err := BuildEnvelope(sampleEvent{DeviceID: 9, OccurredAt: at}, Meta{})
	require.NoError(t, err)

	assert.Equal(t, "sample_event", env.EventType)
	assert.Equal(t, int64(9), env.DeviceID)
	assert.True(t, env.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, env.EventID, env.CorrelationID)
	_, err = uuid.Parse(env.EventID)
	assert.NoError(t, err)

	var decoded sampleEvent
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, int64(9), decoded.DeviceID)
}

func TestBuildEnvelopeMetaOverrides(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-1")
	meta := MetaFromContext(ctx)
	meta.EventID = "evt-1"
	meta.SchemaVersion = 2

	env, err := BuildEnvelope(&untypedEvent{Value: 1}, meta)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, 2, env.SchemaVersion)
	assert.Equal(t, "eventing.untypedEvent", env.EventType)
	assert.Zero(t, env.DeviceID)
	assert.False(t, env.OccurredAt.IsZero())
}

func TestBuildEnvelopeNilEvent(t *testing.T) {
	_, err := BuildEnvelope(nil, Meta{})
	require.Error(t, err)
}
