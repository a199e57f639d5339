package tts

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-piper/tts"

type instruments struct {
	requests metric.Int64Counter
	stopped  metric.Int64Counter
	failures metric.Int64Counter
	bytes    metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	requests, err := meter.Int64Counter("loqa.tts.synth.requests", metric.WithDescription("Synthesis requests handled"))
	if err != nil {
		return nil, err
	}
	stopped, err := meter.Int64Counter("loqa.tts.synth.stopped", metric.WithDescription("Synthesis requests short-circuited by stop"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.tts.synth.failures", metric.WithDescription("Synthesis requests that returned an error"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Counter("loqa.tts.synth.bytes", metric.WithDescription("PCM bytes produced"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("loqa.tts.synth.duration", metric.WithDescription("Synthesis latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &instruments{requests: requests, stopped: stopped, failures: failures, bytes: bytes, latency: latency}, nil
}

func defaultInstruments() (*instruments, error) {
	inst, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		fallback, _ := newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
		return fallback, err
	}
	return inst, nil
}

func (i *instruments) record(ctx context.Context, engine string, outcome synthOutcome, elapsedMS float64, err error) {
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	i.requests.Add(ctx, 1, attrs)
	i.latency.Record(ctx, elapsedMS, attrs)
	switch {
	case err != nil:
		i.failures.Add(ctx, 1, attrs)
	case outcome.stopped:
		i.stopped.Add(ctx, 1, attrs)
	default:
		i.bytes.Add(ctx, int64(outcome.pcm.Len()), attrs)
	}
}
