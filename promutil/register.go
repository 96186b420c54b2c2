package promutil

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register adds c to reg. When an identical collector is already registered,
// as happens when several components share one registry, the existing
// collector is returned instead.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
