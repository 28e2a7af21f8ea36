// Package telemetry provides observability for iamdeploy dispatches.
//
// It bundles structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process event publisher.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	op := telemetry.StartOperation(ctx, "catalog.load")
//	defer op.End(err)
//
// Metrics are served by pkg/server through Metrics.Handler. Spans are
// exported to stdout or an OTLP collector over gRPC when tracing is enabled.
package telemetry
