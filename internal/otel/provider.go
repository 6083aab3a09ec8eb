package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds OTel settings for the patrol daemon.
type Config struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	LogWriter    io.Writer // local sink for exported records, required when enabled
	Endpoint     string    // OTLP endpoint, optional
	Insecure     bool      // plain HTTP for the OTLP endpoint
}

// Provider owns the OpenTelemetry log pipeline. Logs are always exported
// to the local writer; an OTLP endpoint is added on top when configured,
// so a collector outage never loses records.
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New creates a provider from the configuration. When disabled it returns
// a usable no-op provider rather than nil, so callers need no guards.
func New(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var processors []sdklog.Processor

	if cfg.LogWriter != nil {
		fileExporter, err := stdoutlog.New(
			stdoutlog.WithWriter(cfg.LogWriter),
			stdoutlog.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		processors = append(processors, sdklog.NewBatchProcessor(fileExporter,
			sdklog.WithExportTimeout(cfg.BatchTimeout),
		))
	}

	if cfg.Endpoint != "" {
		otlpOpts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			otlpOpts = append(otlpOpts, otlploghttp.WithInsecure())
		}

		otlpExporter, err := otlploghttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		processors = append(processors, sdklog.NewBatchProcessor(otlpExporter,
			sdklog.WithExportTimeout(cfg.BatchTimeout),
		))
	}

	if len(processors) == 0 {
		return nil, errors.New("otel enabled but no log writer or endpoint configured")
	}

	opts := []sdklog.LoggerProviderOption{
		sdklog.WithResource(res),
	}
	for _, proc := range processors {
		opts = append(opts, sdklog.WithProcessor(proc))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)

	return p, nil
}

// LoggerProvider returns the log provider for the otelslog bridge, or nil
// when OTel is disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a no-op meter. The dispatcher wires its own meter from the
// global provider; this exists so callers can hold a single handle.
func (p *Provider) Meter(name string) metric.Meter {
	return noop.Meter{}
}

// Flush forces export of pending records, used before shutdown and after a
// mission ends.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown drains and stops the log pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

// Enabled reports whether the provider exports anything.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
