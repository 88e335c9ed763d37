package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for otlp exporter without endpoint")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sampling rate above 1")
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("engine").
		WithRecordName("net1").
		WithClaimToken("token-1").
		Info("claimed")

	out := buf.String()
	for _, want := range []string{`"component":"engine"`, `"record_name":"net1"`, `"claim_token":"token-1"`, `"message":"claimed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log line %s", want, out)
		}
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := NewNopLogger()
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	// None of these may panic.
	m.RecordProvisionStarted()
	m.RecordProvisionCompleted("created", time.Second)
	m.RecordCompensation(2)
	m.RecordStoreOperation("get", nil)

	var nilMetrics *Metrics
	nilMetrics.RecordProviderCall("ec2", "create_network", time.Second)

	if m.Registry() != nil {
		t.Error("expected nil registry for disabled metrics")
	}
}

func TestMetricsRecordProvisions(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordProvisionStarted()
	m.RecordProvisionCompleted("created", 2*time.Second)
	m.RecordProvisionStarted()
	m.RecordProvisionCompleted("already_exists", time.Millisecond)
	m.RecordCompensation(0)
	m.RecordCompensation(3)

	if got := testutil.ToFloat64(m.provisions.WithLabelValues("created")); got != 1 {
		t.Errorf("expected 1 created provision, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeProvisions); got != 0 {
		t.Errorf("expected no active provisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.orphans); got != 3 {
		t.Errorf("expected 3 orphans, got %v", got)
	}
	if got := testutil.ToFloat64(m.compensations.WithLabelValues("incomplete")); got != 1 {
		t.Errorf("expected 1 incomplete compensation, got %v", got)
	}
}

type codedError struct{}

func (codedError) Error() string          { return "throttled" }
func (codedError) ErrorClassName() string { return "throttled" }
func (codedError) ErrorCode() string      { return "RATE_LIMITED" }

func TestRecordProviderOperation(t *testing.T) {
	metrics, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	tel := &Telemetry{Logger: NewNopLogger(), Tracer: NewNopTracer(), Metrics: metrics}

	want := codedError{}
	got := tel.RecordProviderOperation(context.Background(), "ec2", "create_network", func(context.Context) error {
		return want
	})
	if !errors.Is(got, want) {
		t.Fatalf("expected wrapped function error, got %v", got)
	}

	if n := testutil.ToFloat64(metrics.providerCalls.WithLabelValues("ec2", "create_network")); n != 1 {
		t.Errorf("expected 1 provider call, got %v", n)
	}
	if n := testutil.ToFloat64(metrics.providerErrors.WithLabelValues("ec2", "create_network")); n != 1 {
		t.Errorf("expected 1 provider error, got %v", n)
	}
	if n := testutil.ToFloat64(metrics.errorsByCode.WithLabelValues("RATE_LIMITED")); n != 1 {
		t.Errorf("expected 1 RATE_LIMITED error, got %v", n)
	}
}
