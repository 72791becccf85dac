package application

import (
	"context"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	telemetry "hemis-telemetry/internal/telemetry/domain"
	telemetrykafka "hemis-telemetry/internal/telemetry/infrastructure/kafka"
)

type hungBroker struct {
	calls chan struct{}
	once  sync.Once
}

func (h *hungBroker) WriteMessages(ctx context.Context, _ ...kafkago.Message) error {
	h.once.Do(func() { close(h.calls) })
	<-ctx.Done()
	return ctx.Err()
}

func (h *hungBroker) Close() error { return nil }

func TestRecordReturnsWhileEventBrokerHangs(t *testing.T) {
	broker := &hungBroker{calls: make(chan struct{})}
	publisher, err := telemetrykafka.NewPublisher(broker, telemetrykafka.DefaultTopic, zap.NewNop(),
		telemetrykafka.WithWriteTimeout(300*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	f := newIngestFixture(t)
	broadcaster, err := NewBroadcaster(f.fanout, zap.NewNop())
	require.NoError(t, err)
	recorder, err := NewRecorder(f.writer, f.directory, broadcaster, zap.NewNop(), WithEventSink(publisher))
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := recorder.Record(context.Background(), telemetry.Sample{
			DeviceID: 5, HeartRate: 70, SpO2: 98, TempSkin: 36.6, FingerDetected: true, CapturedAt: testNow,
		})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	select {
	case <-broker.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the broker")
	}
	assert.Len(t, f.writer.samples, 3)
}
