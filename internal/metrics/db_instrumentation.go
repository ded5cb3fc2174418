package metrics

import (
	"time"
)

// MeasureDBQuery times a database operation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "record_payment", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
