// Package observability provides OpenTelemetry tracing, structured logging,
// and operation health tracking for chronicle runs.
//
// # Tracing
//
// Initialize the provider at process startup. Telemetry is opt-in; with
// Enabled false every call below is a no-op.
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "chronicle",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
// Wrap operations to get a span plus RED metrics in one call:
//
//	ctx, finish := p.TrackOperation(ctx, "engine.tick",
//		observability.TickOperation(runID, tick)...)
//	defer func() { finish(err) }()
//
// # Logging
//
// NewLogger builds the process logger; packages receive it as a parameter:
//
//	logger := observability.NewLogger(os.Stderr, observability.ParseLevel(cfg.LogLevel))
//
// # Health
//
// HealthTracker scores operation classes (tick, cycle, append, verify,
// replay) against latency and success targets:
//
//	tracker := observability.NewHealthTracker()
//	tracker.Observe("tick", elapsed, err == nil)
//	health, _ := tracker.Health("tick")
package observability
