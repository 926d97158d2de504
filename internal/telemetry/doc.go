// Package telemetry exports the spans memsync records around each
// reconcile stage and store call to an OpenTelemetry collector.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// New installs the tracer provider globally, so packages that call
// otel.Tracer pick it up without being handed the instance.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http/protobuf
//	  insecure: true        # local endpoints only
//	  sample_rate: 1.0
//
// # Error Handling
//
// Exporter failures do not fail a run. The instance degrades and the
// global provider stays the no-op one.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	defer tt.Shutdown(ctx)
//	// ... run code that starts spans ...
//	tt.AssertSpanExists(t, "Engine.Run")
package telemetry
