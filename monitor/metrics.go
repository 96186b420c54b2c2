package monitor

import (
	"github.com/defistate/lending-monitor-go/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lending_monitor"

type metrics struct {
	healthFactor prometheus.Gauge
	utilization  prometheus.Gauge
	borrowAPR    prometheus.Gauge
	borrowAPY    prometheus.Gauge
	mismatches   prometheus.Gauge
	lastSuccess  prometheus.Gauge
	failures     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	gauge := func(name, help string) (prometheus.Gauge, error) {
		return promutil.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}))
	}

	m := &metrics{}
	var err error
	if m.healthFactor, err = gauge("health_factor", "Max borrow over current debt; below 1 the position exceeds its LLTV."); err != nil {
		return nil, err
	}
	if m.utilization, err = gauge("utilization_ratio", "Debt value over collateral value."); err != nil {
		return nil, err
	}
	if m.borrowAPR, err = gauge("borrow_apr_ratio", "Borrow rate annualized without compounding."); err != nil {
		return nil, err
	}
	if m.borrowAPY, err = gauge("borrow_apy_ratio", "Borrow rate compounded daily."); err != nil {
		return nil, err
	}
	if m.mismatches, err = gauge("config_mismatches", "Market params fields that differ from the pinned configuration."); err != nil {
		return nil, err
	}
	if m.lastSuccess, err = gauge("last_success_timestamp_seconds", "Unix time of the last computed snapshot."); err != nil {
		return nil, err
	}
	if m.failures, err = promutil.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_failures_total",
		Help:      "Snapshot computations aborted by a failed read or calculation.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}
