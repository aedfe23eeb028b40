package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	clicksRecorded       metric.Int64Counter
	rewardsQualified     metric.Int64Counter
	fraudFlags           metric.Int64Counter
	statementsUpserted   metric.Int64Counter
	periodLocks          metric.Int64Counter
	notificationFailures metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "partnerly"
	}
	meter := provider.Meter(name)

	clicksRecorded, err := meter.Int64Counter("partnerly_referral_clicks_total")
	if err != nil {
		return nil, err
	}
	rewardsQualified, err := meter.Int64Counter("partnerly_rewards_qualified_total")
	if err != nil {
		return nil, err
	}
	fraudFlags, err := meter.Int64Counter("partnerly_fraud_flags_total")
	if err != nil {
		return nil, err
	}
	statementsUpserted, err := meter.Int64Counter("partnerly_statements_upserted_total")
	if err != nil {
		return nil, err
	}
	periodLocks, err := meter.Int64Counter("partnerly_period_locks_total")
	if err != nil {
		return nil, err
	}
	notificationFailures, err := meter.Int64Counter("partnerly_notification_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		clicksRecorded:       clicksRecorded,
		rewardsQualified:     rewardsQualified,
		fraudFlags:           fraudFlags,
		statementsUpserted:   statementsUpserted,
		periodLocks:          periodLocks,
		notificationFailures: notificationFailures,
	}, nil
}

// RecordClick increments recorded referral click counts.
func (m *Metrics) RecordClick(ctx context.Context) {
	if m == nil {
		return
	}
	m.clicksRecorded.Add(ctx, 1)
}

// RecordQualification increments reward qualification counts per reward type.
func (m *Metrics) RecordQualification(ctx context.Context, rewardType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reward_type", strings.TrimSpace(rewardType)))
	m.rewardsQualified.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFraudFlag increments fraud flag counts per target kind.
func (m *Metrics) RecordFraudFlag(ctx context.Context, target string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("target", strings.TrimSpace(target)))
	m.fraudFlags.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatementsUpserted adds the number of statements written by a run.
func (m *Metrics) RecordStatementsUpserted(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.statementsUpserted.Add(ctx, count)
}

// RecordPeriodLock increments period lock counts.
func (m *Metrics) RecordPeriodLock(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger", strings.TrimSpace(trigger)))
	m.periodLocks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotificationFailure increments notification failure counts.
func (m *Metrics) RecordNotificationFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.notificationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"reward_type": {},
	"target":      {},
	"trigger":     {},
	"kind":        {},
	"status_code": {},
	"endpoint":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
