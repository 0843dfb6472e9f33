package engine

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/db/queries"
)

type metrics struct {
	operations *prometheus.CounterVec
	mappings   *prometheus.GaugeVec
	owners     prometheus.Gauge
	reserved   prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "natmgr",
			Name:      "operations_total",
			Help:      "Number of engine operations by name and result.",
		}, []string{"operation", "result"}),
		mappings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "natmgr",
			Name:      "port_mappings",
			Help:      "Number of stored port mappings by protocol.",
		}, []string{"protocol"}),
		owners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "natmgr",
			Name:      "owners",
			Help:      "Number of owners with stored port mappings.",
		}),
		reserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "natmgr",
			Name:      "reserved_ports",
			Help:      "Number of reserved ports.",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.operations, m.mappings, m.owners, m.reserved} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed registering engine metrics: %w", err)
		}
	}
	return nil
}

// observe counts the operation, labelling it with the kind of error it
// failed with, if any.
func (m *metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		switch {
		case errors.Is(err, aerrors.ErrInvalidArgument):
			result = "invalid_argument"
		case errors.Is(err, aerrors.ErrConflict):
			result = "conflict"
		case errors.Is(err, aerrors.ErrNotFound):
			result = "not_found"
		case errors.Is(err, aerrors.ErrExternalCommand):
			result = "external_command"
		case errors.Is(err, aerrors.ErrIO):
			result = "io"
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *metrics) setStats(s queries.Stats) {
	m.mappings.WithLabelValues("tcp").Set(float64(s.TCPMappings))
	m.mappings.WithLabelValues("udp").Set(float64(s.UDPMappings))
	m.owners.Set(float64(s.TotalOwners))
	m.reserved.Set(float64(s.ReservedPorts))
}
