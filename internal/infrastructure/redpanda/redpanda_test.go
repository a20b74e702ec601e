package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

func TestHeaderCarrier(t *testing.T) {
	r := &kgo.Record{}
	c := headerCarrier{r}

	c.Set("traceparent", "a")
	c.Set("tracestate", "b")
	c.Set("traceparent", "c")

	assert.Equal(t, "c", c.Get("traceparent"))
	assert.Equal(t, "b", c.Get("tracestate"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, c.Keys())
	assert.Len(t, r.Headers, 2)
}

func TestTracePropagatesThroughHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	r := &kgo.Record{}
	injectTrace(ctx, r)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headerCarrier{r}.Get("traceparent"))

	got := trace.SpanContextFromContext(extractTrace(context.Background(), r))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestDefaultTopicConfigs(t *testing.T) {
	configs := DefaultTopicConfigs(0)
	var names []string
	for _, c := range configs {
		names = append(names, c.Name)
		assert.Equal(t, int16(1), c.ReplicationFactor)
	}
	assert.Equal(t, []string{medication.StreamAdministrations, medication.StreamMedications, TopicDeadLetter}, names)
}
