package otelcol

import (
	"context"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const exporterStartTimeout = 10 * time.Second

// newExporter picks the OTLP transport from OTEL.PROTOCOL; anything other
// than "http" uses gRPC.
func newExporter(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterStartTimeout)
	defer cancel()

	var client otlptrace.Client
	switch strings.ToLower(cfg.Otel.Protocol) {
	case "http":
		client = otlptracehttp.NewClient(
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
			otlptracehttp.WithEndpoint(cfg.Otel.Addr),
		)
	default:
		client = otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithCompressor("gzip"),
			otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		)
	}

	return otlptrace.New(ctx, client)
}
