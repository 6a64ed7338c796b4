package xcache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/omeyang/tilecache/xcache"

	metricHits          = "tilecache.cache.hits"
	metricMisses        = "tilecache.cache.misses"
	metricConstructions = "tilecache.cache.constructions"
	metricEvictions     = "tilecache.cache.evictions"
	metricReleases      = "tilecache.cache.releases"

	spanConstruct = "xcache.construct"
)

// telemetry 持有一个缓存的 OTel 计数器和 tracer。
type telemetry struct {
	tracer        trace.Tracer
	attrs         metric.MeasurementOption
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	constructions metric.Int64Counter
	evictions     metric.Int64Counter
	releases      metric.Int64Counter
}

func newTelemetry(name string, mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &telemetry{
		tracer: tp.Tracer(instrumentationName),
		attrs:  metric.WithAttributes(attribute.String("cache", name)),
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.hits, metricHits, "cache lookups that found a value"},
		{&t.misses, metricMisses, "cache lookups that found nothing"},
		{&t.constructions, metricConstructions, "values constructed on miss"},
		{&t.evictions, metricEvictions, "values displaced by capacity pressure"},
		{&t.releases, metricReleases, "release hooks run"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("xcache: create counter %s failed: %w", c.name, err)
		}
		*c.dst = counter
	}
	return t, nil
}

func (t *telemetry) add(ctx context.Context, c metric.Int64Counter, n int) {
	if n <= 0 {
		return
	}
	c.Add(ctx, int64(n), t.attrs)
}
