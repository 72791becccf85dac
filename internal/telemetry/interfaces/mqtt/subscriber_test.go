package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

type recordingIngester struct {
	raws []map[string]any
}

func (r *recordingIngester) Ingest(_ context.Context, raw map[string]any) (telemetry.Sample, error) {
	r.raws = append(r.raws, raw)
	return telemetry.Validate(raw)
}

func newTestSubscriber(t *testing.T) (*Subscriber, *recordingIngester) {
	t.Helper()
	ingester := &recordingIngester{}
	sub, err := NewSubscriber(Config{Broker: "tcp://localhost:1883"}, ingester, zap.NewNop())
	require.NoError(t, err)
	return sub, ingester
}

func TestHandleMessageTakesDeviceFromTopic(t *testing.T) {
	sub, ingester := newTestSubscriber(t)

	err := sub.HandleMessage(context.Background(), "hemis/vitals/12", []byte(`{"heart_rate":72,"spo2":98,"temp_skin":36.5}`))
	require.NoError(t, err)
	require.Len(t, ingester.raws, 1)
	assert.Equal(t, "12", ingester.raws[0]["device_id"])
	assert.Equal(t, json.Number("72"), ingester.raws[0]["heart_rate"])
}

func TestHandleMessagePayloadDeviceWins(t *testing.T) {
	sub, ingester := newTestSubscriber(t)

	err := sub.HandleMessage(context.Background(), "hemis/vitals/12", []byte(`{"device_id":3,"heart_rate":72,"spo2":98,"temp_skin":36.5}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), ingester.raws[0]["device_id"])
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
	sub, ingester := newTestSubscriber(t)
	ctx := context.Background()

	assert.ErrorIs(t, sub.HandleMessage(ctx, "hemis/vitals/1", nil), telemetry.ErrNoData)
	assert.ErrorIs(t, sub.HandleMessage(ctx, "hemis/vitals/1", []byte("null")), telemetry.ErrNoData)
	assert.Error(t, sub.HandleMessage(ctx, "hemis/vitals/1", []byte("{not json")))
	assert.Empty(t, ingester.raws)

	err := sub.HandleMessage(ctx, "hemis/vitals/", []byte(`{"heart_rate":72,"spo2":98,"temp_skin":36.5}`))
	assert.ErrorIs(t, err, telemetry.ErrMissingField)
}

func TestNewSubscriberDefaults(t *testing.T) {
	sub, _ := newTestSubscriber(t)
	assert.Equal(t, DefaultTopic, sub.cfg.Topic)
	assert.Equal(t, "hemis-telemetry", sub.cfg.ClientID)

	_, err := NewSubscriber(Config{}, &recordingIngester{}, nil)
	assert.Error(t, err)
	_, err = NewSubscriber(Config{Broker: "tcp://x:1883"}, nil, nil)
	assert.Error(t, err)
}

type stubToken struct {
	completes bool
	err       error
}

func (s stubToken) Wait() bool                     { return s.completes }
func (s stubToken) WaitTimeout(time.Duration) bool { return s.completes }
func (s stubToken) Error() error                   { return s.err }

func (s stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if s.completes {
		close(ch)
	}
	return ch
}

func TestWaitTokenTreatsTimeoutAsFailure(t *testing.T) {
	assert.NoError(t, waitToken(stubToken{completes: true}, time.Millisecond))
	assert.ErrorIs(t, waitToken(stubToken{completes: false}, time.Millisecond), errTokenTimeout)

	refused := errors.New("not authorized")
	assert.ErrorIs(t, waitToken(stubToken{completes: true, err: refused}, time.Millisecond), refused)
}
