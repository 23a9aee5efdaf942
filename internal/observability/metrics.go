package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamvault/playback-license-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	admissionCounter    metric.Int64Counter
	licenseOpCounter    metric.Int64Counter
	sweeperReapCounter  metric.Int64Counter
	auditFailureCounter metric.Int64Counter
	repoOpCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("playback-license-service")
	admissionCounter, err := meter.Int64Counter("playback.admission.attempts")
	if err != nil {
		return nil, err
	}
	licenseOpCounter, err := meter.Int64Counter("license.operations")
	if err != nil {
		return nil, err
	}
	sweeperReapCounter, err := meter.Int64Counter("sweeper.sessions.reaped")
	if err != nil {
		return nil, err
	}
	auditFailureCounter, err := meter.Int64Counter("audit.write.failures")
	if err != nil {
		return nil, err
	}
	repoOpCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		admissionCounter:    admissionCounter,
		licenseOpCounter:    licenseOpCounter,
		sweeperReapCounter:  sweeperReapCounter,
		auditFailureCounter: auditFailureCounter,
		repoOpCounter:       repoOpCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAdmission(ctx context.Context, outcome, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.admissionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		),
	)
}

func RecordLicenseOperation(ctx context.Context, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.licenseOpCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordSweeperReaped(ctx context.Context, count int) {
	m := current()
	if m == nil || count <= 0 {
		return
	}
	m.sweeperReapCounter.Add(ctx, int64(count))
}

func RecordAuditWriteFailure(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.auditFailureCounter.Add(ctx, 1)
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoOpCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		),
	)
}
