// Package telemetry provides observability instrumentation for vpcforge.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus). A Telemetry value is constructed
// once at startup and passed explicitly to the engine, the provider decorators
// and the request handler.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRecordName("net1").WithClaimToken(token)
//	logger.Info("claimed record")
//	logger.WithError(err).Error("compensation incomplete")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Every provisioning attempt gets a root span; provider and store calls are
// child spans:
//
//	ctx, span := tel.Tracer.StartProvisionSpan(ctx, name, region)
//	defer span.End()
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
//	tel.Metrics.RecordProvisionCompleted("created", duration)
//	tel.Metrics.RecordProviderCall("ec2", "create_network", duration)
//	tel.Metrics.RecordCompensation(len(orphans))
//
// Metrics are served by `vpcforge serve` at the configured path (default /metrics).
package telemetry
