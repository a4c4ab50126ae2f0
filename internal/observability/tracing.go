package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider returns the global provider when tracing is enabled and a
// no-op provider otherwise. Exporter setup is left to the process that
// registers a global provider.
func TracerProvider(enabled bool) trace.TracerProvider {
	if !enabled {
		return noop.NewTracerProvider()
	}
	return otel.GetTracerProvider()
}
