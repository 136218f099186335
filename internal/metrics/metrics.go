// Package metrics provides Prometheus metrics for the fixture loop and tag
// operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flickerd"

var (
	framesShown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fixture",
		Name:      "frames_total",
		Help:      "Frames pushed to a fixture's outputs",
	}, []string{"fixture"})

	patternChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fixture",
		Name:      "pattern_changes_total",
		Help:      "Pattern selections per fixture",
	}, []string{"fixture"})

	identifies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fixture",
		Name:      "identify_total",
		Help:      "Identify animations played per fixture",
	}, []string{"fixture"})

	selectedFixture = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bank",
		Name:      "selected",
		Help:      "1 for the currently selected fixture",
	}, []string{"fixture"})

	tagOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tag",
		Name:      "operations_total",
		Help:      "Tag load and save operations by result",
	}, []string{"op", "result"})

	buttonEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "events_total",
		Help:      "Button events dispatched",
	}, []string{"button", "type"})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "dropped_events_total",
		Help:      "Button events dropped because the queue was full",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "loop",
		Name:      "tick_seconds",
		Help:      "Time spent in one loop iteration",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1},
	})
)

// Tag operation results.
const (
	ResultOK          = "ok"
	ResultAuth        = "auth_error"
	ResultIO          = "io_error"
	ResultInvalid     = "invalid"
	ResultUnsupported = "unsupported"
	ResultUnknown     = "unknown_tag"
)

// FrameShown counts one frame for a fixture.
func FrameShown(fixture string) {
	framesShown.WithLabelValues(fixture).Inc()
}

// PatternChanged counts a pattern selection.
func PatternChanged(fixture string) {
	patternChanges.WithLabelValues(fixture).Inc()
}

// Identified counts an identify animation.
func Identified(fixture string) {
	identifies.WithLabelValues(fixture).Inc()
}

// SetSelected marks fixture as the selected one among all.
func SetSelected(all []string, fixture string) {
	for _, name := range all {
		v := 0.0
		if name == fixture {
			v = 1
		}
		selectedFixture.WithLabelValues(name).Set(v)
	}
}

// TagOperation counts a tag load or save with its result.
func TagOperation(op, result string) {
	tagOps.WithLabelValues(op, result).Inc()
}

// ButtonEvent counts a dispatched button event.
func ButtonEvent(button, eventType string) {
	buttonEvents.WithLabelValues(button, eventType).Inc()
}

// EventDropped counts a dropped button event.
func EventDropped() {
	droppedEvents.Inc()
}

// ObserveTick records the duration of one loop iteration in seconds.
func ObserveTick(seconds float64) {
	tickDuration.Observe(seconds)
}
