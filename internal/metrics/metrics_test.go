package metrics

import "testing"

func TestNewRegistryRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	m := NewRegistry()
	m.OrdersAdmitted.Inc()
	m.OrdersRejected.WithLabelValues("PriceBandViolation").Inc()
	m.TradesExecuted.Inc()
	m.WALQueueDepth.Set(3)
	m.RouterQueueDepth.WithLabelValues("0", "order").Set(1)
	m.RouterBackpressureRejects.WithLabelValues("cancel").Inc()

	if m.Handler() == nil {
		t.Fatal("expected non-nil metrics handler")
	}
}
