package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics handed to every component.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns telemetry that discards logs and spans and records
// no metrics.
func NewNopTelemetry() *Telemetry {
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  NewNopTracer(),
		Metrics: &Metrics{},
		Config:  DefaultConfig(),
	}
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func (t *Telemetry) StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	spanCtx, span := t.Tracer.StartSpan(ctx, operation, attrs...)

	logger := t.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.
			WithField("trace_id", span.SpanContext().TraceID().String()).
			WithField("span_id", span.SpanContext().SpanID().String())
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// classifiedError is implemented by errors that carry a class and code.
type classifiedError interface {
	error
	ErrorClassName() string
	ErrorCode() string
}

// RecordProviderOperation runs fn inside a provider span and records call
// metrics for it.
func (t *Telemetry) RecordProviderOperation(ctx context.Context, providerName, operation string, fn func(context.Context) error) error {
	ctx, span := t.Tracer.StartProviderSpan(ctx, providerName, operation)
	defer span.End()

	timer := NewTimer()
	err := fn(ctx)
	t.Metrics.RecordProviderCall(providerName, operation, timer.Duration())

	if err != nil {
		t.Metrics.RecordProviderError(providerName, operation)
		var ce classifiedError
		if errors.As(err, &ce) {
			t.Metrics.RecordError(ce.ErrorClassName(), ce.ErrorCode())
			span.SetAttributes(
				AttrErrorClass.String(ce.ErrorClassName()),
				AttrErrorCode.String(ce.ErrorCode()),
			)
		}
		RecordError(span, err)
		return err
	}

	RecordSuccess(span)
	return nil
}

// RecordStoreOperation runs fn inside a store span and counts the call.
func (t *Telemetry) RecordStoreOperation(ctx context.Context, operation, name string, fn func(context.Context) error) error {
	ctx, span := t.Tracer.StartStoreSpan(ctx, operation, name)
	defer span.End()

	err := fn(ctx)
	t.Metrics.RecordStoreOperation(operation, err)
	if err != nil {
		RecordError(span, err)
		return err
	}
	RecordSuccess(span)
	return nil
}
