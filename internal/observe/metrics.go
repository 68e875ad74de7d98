// Package observe provides application-wide observability primitives for
// vivavoce: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Instruments are created from any [metric.MeterProvider]; [InitProvider]
// installs one bridged to Prometheus for the /metrics endpoint. Library code
// falls back to [DefaultMetrics], tests pass a provider of their own to
// [NewMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vivavoce metrics.
const meterName = "github.com/MrWong99/vivavoce"

// Metrics holds the application's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// Sessions.

	// ActiveSessions is the number of running assessment sessions.
	ActiveSessions metric.Int64UpDownCounter
	// SessionsCompleted counts terminal sessions by "outcome".
	SessionsCompleted metric.Int64Counter
	// TurnAttempts counts recognition attempts by "phase" and "result".
	TurnAttempts metric.Int64Counter

	// Proctoring.

	// Violations counts recorded integrity violations by "kind".
	Violations metric.Int64Counter
	// MonitorTicks counts proctoring monitor ticks.
	MonitorTicks metric.Int64Counter

	// Evaluation and grading.

	// EvaluationDuration tracks round-trips to the evaluator.
	EvaluationDuration metric.Float64Histogram
	// EvaluationFailures counts failed evaluation attempts; each is retried.
	EvaluationFailures metric.Int64Counter
	// GradingDuration tracks model latency inside the grader.
	GradingDuration metric.Float64Histogram
	// GradingScores is the distribution of total scores handed out.
	GradingScores metric.Int64Histogram
	// LLMTokens counts tokens by "model" and "type" (prompt or completion).
	LLMTokens metric.Int64Counter

	// Infrastructure.

	// BreakerTransitions counts circuit breaker state changes by "breaker"
	// and "to".
	BreakerTransitions metric.Int64Counter
	// HTTPRequestDuration tracks request time by "method", "path" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Grading calls routinely
// take several seconds, hence the long tail.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// scoreBuckets split the 0..100 score range into deciles.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates every instrument on mp. The error joins all instrument
// creation failures.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		ActiveSessions:    b.upDown("vivavoce.sessions.active", "Number of running assessment sessions."),
		SessionsCompleted: b.counter("vivavoce.sessions.completed", "Total completed sessions by outcome."),
		TurnAttempts:      b.counter("vivavoce.turn.attempts", "Total recognition attempts by phase and result."),

		Violations:   b.counter("vivavoce.violations", "Total integrity violations by kind."),
		MonitorTicks: b.counter("vivavoce.monitor.ticks", "Total proctoring monitor ticks."),

		EvaluationDuration: b.seconds("vivavoce.evaluation.duration", "Latency of answer evaluation requests.", latencyBuckets),
		EvaluationFailures: b.counter("vivavoce.evaluation.failures", "Total failed evaluation attempts."),
		GradingDuration:    b.seconds("vivavoce.grading.duration", "Latency of LLM grading.", latencyBuckets),
		GradingScores: b.intHistogram("vivavoce.grading.score", "Total scores handed out by the grader.",
			metric.WithExplicitBucketBoundaries(scoreBuckets...)),
		LLMTokens: b.counter("vivavoce.llm.tokens", "Tokens consumed by grading, by model and type."),

		BreakerTransitions:  b.counter("vivavoce.breaker.transitions", "Circuit breaker state changes."),
		HTTPRequestDuration: b.seconds("vivavoce.http.request.duration", "HTTP request latency by method, path and status.", nil),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// builder collects instrument creation errors so that NewMetrics reads as a
// flat list.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) track(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.track(err)
	return c
}

func (b *builder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.track(err)
	return c
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.track(err)
	return h
}

func (b *builder) intHistogram(name, desc string, opts ...metric.Int64HistogramOption) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, append([]metric.Int64HistogramOption{metric.WithDescription(desc)}, opts...)...)
	b.track(err)
	return h
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on
// [otel.GetMeterProvider] at first use. It panics if instrument creation
// fails, which the global provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordViolation increments the violation counter for kind.
func (m *Metrics) RecordViolation(ctx context.Context, kind string) {
	m.Violations.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordTurnAttempt increments the recognition attempt counter.
func (m *Metrics) RecordTurnAttempt(ctx context.Context, phase, result string) {
	m.TurnAttempts.Add(ctx, 1, metric.WithAttributes(Attr("phase", phase), Attr("result", result)))
}

// RecordSessionCompleted increments the completed sessions counter.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, outcome string) {
	m.SessionsCompleted.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTokens adds a completion's token usage. An empty model is recorded
// as "unknown".
func (m *Metrics) RecordTokens(ctx context.Context, model string, prompt, completion int) {
	if model == "" {
		model = "unknown"
	}
	if prompt > 0 {
		m.LLMTokens.Add(ctx, int64(prompt), metric.WithAttributes(Attr("model", model), Attr("type", "prompt")))
	}
	if completion > 0 {
		m.LLMTokens.Add(ctx, int64(completion), metric.WithAttributes(Attr("model", model), Attr("type", "completion")))
	}
}

// RecordBreakerTransition counts a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("breaker", breaker), Attr("to", to)))
}
