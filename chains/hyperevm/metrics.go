package hyperevm

import (
	"github.com/defistate/lending-monitor-go/promutil"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	callDuration *prometheus.HistogramVec
	callErrors   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	callDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lending_monitor",
		Name:      "rpc_call_duration_seconds",
		Help:      "Latency of eth_call reads, by contract method.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"method"})

	callErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lending_monitor",
		Name:      "rpc_call_errors_total",
		Help:      "Failed or undecodable eth_call reads, by contract method.",
	}, []string{"method"})

	var err error
	if callDuration, err = promutil.Register(reg, callDuration); err != nil {
		return nil, err
	}
	if callErrors, err = promutil.Register(reg, callErrors); err != nil {
		return nil, err
	}
	return &metrics{callDuration: callDuration, callErrors: callErrors}, nil
}
