// Package proctor polices a running assessment through the camera.
//
// A [Monitor] repeatedly grabs a frame from the capture handle, asks the
// detector what is in it and folds the answer into its presence state:
// forbidden devices and prolonged absence are reported as violations. The
// host's visibility signal is handled here as well, so a candidate leaving
// the exam view is reported the same way.
//
// The Monitor never decides on termination. It hands every violation to a
// [Reporter], which owns the ledger and the escalation policy.
package proctor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vivavoce/internal/ledger"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/resilience"
	"github.com/MrWong99/vivavoce/pkg/capture"
	"github.com/MrWong99/vivavoce/pkg/provider/detect"
)

// Violation messages, spoken to the candidate as they are reported.
const (
	MessagePhone     = "Mobile phone detected! Mobile phones are not allowed."
	MessageAbsence   = "No person detected! Please stay in front of the webcam."
	MessageTabSwitch = "Tab switching detected! Please stay on the exam tab."
)

// labelPerson is the detector class for a visible candidate.
const labelPerson = "person"

// failureBackoff is the pause after a failed frame grab or detection.
const failureBackoff = 100 * time.Millisecond

// Reporter receives violations observed by the [Monitor].
type Reporter interface {
	Report(kind ledger.Kind, message string)
}

// Config holds detection thresholds.
type Config struct {
	// PersonConfidence is the exclusive minimum score for a person detection.
	PersonConfidence float64

	// PhoneConfidence is the exclusive minimum score for a phone detection.
	PhoneConfidence float64

	// PhoneLabels are the detector classes treated as forbidden devices.
	PhoneLabels []string

	// AbsenceThreshold is how long no person may be visible before an
	// absence violation is reported.
	AbsenceThreshold time.Duration

	// TickInterval is the minimum pause between ticks. Zero reschedules
	// immediately.
	TickInterval time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PersonConfidence: 0.7,
		PhoneConfidence:  0.6,
		PhoneLabels:      []string{"cell phone", "mobile phone"},
		AbsenceThreshold: 5 * time.Second,
	}
}

// Option is a functional option for [New].
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Monitor) { m.metrics = met }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// Monitor is the proctoring loop. Run must be called at most once at a time.
type Monitor struct {
	detector detect.Provider
	reporter Reporter
	cfg      Config

	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger

	active atomic.Bool
	ticks  atomic.Int64

	// lastPersonSeenAt is owned by the Run goroutine.
	lastPersonSeenAt time.Time
}

// New creates a Monitor that reports to r.
func New(d detect.Provider, r Reporter, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{detector: d, reporter: r, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Active reports whether Run is in progress.
func (m *Monitor) Active() bool {
	return m.active.Load()
}

// Ticks returns the number of completed ticks.
func (m *Monitor) Ticks() int64 {
	return m.ticks.Load()
}

// Run ticks until ctx is done or the capture handle is released. A nil
// handle means no camera is available: Run then only keeps the monitor
// active for visibility events until ctx is done.
func (m *Monitor) Run(ctx context.Context, h capture.Handle) error {
	m.active.Store(true)
	defer m.active.Store(false)
	m.lastPersonSeenAt = m.now()

	if h == nil {
		<-ctx.Done()
		return nil
	}

	for ctx.Err() == nil {
		err := m.tick(ctx, h)
		switch {
		case errors.Is(err, capture.ErrReleased), ctx.Err() != nil:
			return nil
		case err != nil:
			m.log.Warn("proctor: tick failed", "err", err)
			if resilience.Wait(ctx, failureBackoff) != nil {
				return nil
			}
			continue
		}
		if m.cfg.TickInterval > 0 && resilience.Wait(ctx, m.cfg.TickInterval) != nil {
			return nil
		}
	}
	return nil
}

// tick runs one detect-and-evaluate cycle.
func (m *Monitor) tick(ctx context.Context, h capture.Handle) error {
	frame, err := h.Frame(ctx)
	if err != nil {
		return err
	}
	dets, err := m.detector.Detect(ctx, frame)
	if err != nil {
		return err
	}
	m.ticks.Add(1)
	m.metrics.MonitorTicks.Add(ctx, 1)
	m.evaluate(dets)
	return nil
}

// evaluate folds one frame's detections into the presence state. A phone is
// reported for every qualifying detection.
func (m *Monitor) evaluate(dets []detect.Detection) {
	now := m.now()
	personSeen := false
	for _, d := range dets {
		if strings.EqualFold(d.Label, labelPerson) && d.Confidence > m.cfg.PersonConfidence {
			personSeen = true
			m.lastPersonSeenAt = now
		}
		if m.isPhone(d.Label) && d.Confidence > m.cfg.PhoneConfidence {
			m.reporter.Report(ledger.KindPhone, MessagePhone)
		}
	}
	if !personSeen && now.Sub(m.lastPersonSeenAt) > m.cfg.AbsenceThreshold {
		m.reporter.Report(ledger.KindAbsence, MessageAbsence)
	}
}

func (m *Monitor) isPhone(label string) bool {
	for _, l := range m.cfg.PhoneLabels {
		if strings.EqualFold(label, l) {
			return true
		}
	}
	return false
}

// Visibility handles the host's visibility signal. A hide that is not caused
// by a page reload is reported as a tab switch while the monitor is active.
func (m *Monitor) Visibility(hidden, reload bool) {
	if !hidden || reload || !m.active.Load() {
		return
	}
	m.reporter.Report(ledger.KindTabSwitch, MessageTabSwitch)
}
