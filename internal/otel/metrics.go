package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all reveille metrics instruments.
type Metrics struct {
	RunDuration   metric.Float64Histogram
	PhaseDuration metric.Float64Histogram
	PhaseOutcomes metric.Int64Counter
	SecurityScore metric.Int64Histogram
	BrokenSkills  metric.Int64Counter
	Notifications metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunDuration, err = meter.Float64Histogram("reveille.run.duration",
		metric.WithDescription("Full wake-up run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PhaseDuration, err = meter.Float64Histogram("reveille.phase.duration",
		metric.WithDescription("Per-phase duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PhaseOutcomes, err = meter.Int64Counter("reveille.phase.outcomes",
		metric.WithDescription("Phase results by status"),
	)
	if err != nil {
		return nil, err
	}

	m.SecurityScore, err = meter.Int64Histogram("reveille.security.score",
		metric.WithDescription("Security scan score (0-100)"),
	)
	if err != nil {
		return nil, err
	}

	m.BrokenSkills, err = meter.Int64Counter("reveille.skills.broken",
		metric.WithDescription("Broken skill count observed per run"),
	)
	if err != nil {
		return nil, err
	}

	m.Notifications, err = meter.Int64Counter("reveille.bus.notifications",
		metric.WithDescription("Notification messages drained"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
