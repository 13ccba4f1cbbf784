// Package telemetry wires structured logging and Prometheus metrics for the
// cell.
package telemetry

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Logger is the structured logger handed to every component. Components get
// one via WithComponent so every log line carries a "component" field instead
// of a hand-written message prefix.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger at the given level ("debug", "info", "warn",
// "error") writing JSON lines to stdout.
func New(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return &Logger{entry: logrus.NewEntry(l)}
}

// WithComponent returns a child logger tagged with the given component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

// WithField returns a child logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Metrics holds every Prometheus collector the cell exposes: transfer/
// dispatch counters plus the pheromone-weighted policy's strength gauge.
type Metrics struct {
	QueueSize            prometheus.Gauge
	DispatchCycles       prometheus.Counter
	TransfersDispatched  prometheus.Counter
	TransfersRejected    *prometheus.CounterVec
	Completions          prometheus.Counter
	CarrierCompletions   prometheus.Counter
	PheromoneStrength    *prometheus.GaugeVec
}

// NewMetrics constructs and registers the cell's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "queue_size",
			Help:      "Number of transfer requests currently queued.",
		}),
		DispatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "cycles_total",
			Help:      "Number of dispatch cycles run.",
		}),
		TransfersDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "transfers_dispatched_total",
			Help:      "Number of transfers committed to a robot.",
		}),
		TransfersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "transfers_rejected_total",
			Help:      "Number of transfer requests rejected, by reason.",
		}, []string{"reason"}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "completions_total",
			Help:      "Number of transfer completions delivered to the orchestrator.",
		}),
		CarrierCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wafercell",
			Subsystem: "journey",
			Name:      "carrier_completions_total",
			Help:      "Number of carrier lots that reached full completion.",
		}),
		PheromoneStrength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wafercell",
			Subsystem: "dispatch",
			Name:      "pheromone_strength",
			Help:      "Current pheromone strength per (route, robot) pair.",
		}, []string{"route", "robot"}),
	}
	reg.MustRegister(
		m.QueueSize,
		m.DispatchCycles,
		m.TransfersDispatched,
		m.TransfersRejected,
		m.Completions,
		m.CarrierCompletions,
		m.PheromoneStrength,
	)
	return m
}
