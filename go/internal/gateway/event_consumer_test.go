package gateway

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
)

type recordingSink struct {
	pixels []canvas.Pixel
}

func (r *recordingSink) PublishPixel(ctx context.Context, pixel canvas.Pixel) error {
	r.pixels = append(r.pixels, pixel)
	return nil
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEventEnvelope("replica-a", canvas.Pixel{X: 4, Y: 5, Colour: "#abcdef"})
	data, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, "replica-a", decoded.Origin)
	assert.Equal(t, env.Pixel, decoded.Pixel)
}

func TestEnvelope_CarriesWriteSequence(t *testing.T) {
	env := NewEventEnvelope("replica-a", canvas.Pixel{X: 1, Y: 1, Colour: "#ff0000", Seq: 42})
	data, err := encodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.Seq)
	assert.Equal(t, int64(42), decoded.Pixel.Seq)
}

// Two replicas write the same cell; the relay delivers the writes out of
// store order. Viewers must end on the colour the store holds.
func TestEventConsumer_OutOfOrderRelayKeepsLatestWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm := NewConnectionManager(testConfig(), nil)
	viewer := cm.newConnection(nil, "")
	cm.Register(viewer)
	go cm.Start(ctx)

	consumer := NewEventConsumer(nil, cm, DefaultNATSConfig())
	red := canvas.Pixel{X: 7, Y: 7, Colour: "#ff0000", Seq: 1}
	blue := canvas.Pixel{X: 7, Y: 7, Colour: "#0000ff", Seq: 2}
	marker := canvas.Pixel{X: 8, Y: 8, Colour: "#000000", Seq: 3}

	for _, env := range []EventEnvelope{
		NewEventEnvelope("replica-b", blue),
		NewEventEnvelope("replica-a", red),
		NewEventEnvelope("replica-a", marker),
	} {
		data, err := encodeEnvelope(env)
		require.NoError(t, err)
		consumer.handleMessage(&nats.Msg{Subject: "canvas.pixels", Data: data})
	}

	blue.Seq, marker.Seq = 0, 0
	assert.Equal(t, blue, receive(t, viewer))
	assert.Equal(t, marker, receive(t, viewer))
	assert.Zero(t, viewer.Queued())
	assert.Equal(t, uint64(1), cm.GetConnectionStats().Stale)
}

func TestEventConsumer_HandleMessage(t *testing.T) {
	sink := &recordingSink{}
	consumer := NewEventConsumer(nil, sink, DefaultNATSConfig())

	for i := 0; i < 3; i++ {
		data, err := encodeEnvelope(NewEventEnvelope("replica-b", pixel(i)))
		require.NoError(t, err)
		consumer.handleMessage(&nats.Msg{Subject: "canvas.pixels", Data: data})
	}

	// Garbage and empty payloads are dropped
	consumer.handleMessage(&nats.Msg{Subject: "canvas.pixels", Data: []byte("not json")})
	consumer.handleMessage(&nats.Msg{Subject: "canvas.pixels", Data: []byte(`{"eventId":"x"}`)})

	assert.Equal(t, []canvas.Pixel{pixel(0), pixel(1), pixel(2)}, sink.pixels)
}

func TestService_PublishWithoutRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewService(DefaultConfig(), stubSessions{})
	require.NoError(t, err)

	viewer := svc.connectionManager.newConnection(nil, "")
	svc.connectionManager.Register(viewer)
	go svc.Start(ctx)

	require.NoError(t, svc.PublishPixel(ctx, pixel(7)))
	assert.Equal(t, pixel(7), receive(t, viewer))
	assert.Equal(t, 1, svc.GetStats().TotalConnections)
}
