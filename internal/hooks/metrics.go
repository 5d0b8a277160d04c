package hooks

import "sync/atomic"

// Metrics exposes dispatcher counters for the host's /metrics endpoint.
// All fields are updated atomically.
type Metrics struct {
	FilterFirings  int64 `json:"filter_firings"`
	ActionFirings  int64 `json:"action_firings"`
	StaticFirings  int64 `json:"static_firings"`
	HandlerErrors  int64 `json:"handler_errors"`
	ActionRejected int64 `json:"action_rejected"`
	QueueDepth     int64 `json:"queue_depth"`
}

func (m *Metrics) snapshot() Metrics {
	return Metrics{
		FilterFirings:  atomic.LoadInt64(&m.FilterFirings),
		ActionFirings:  atomic.LoadInt64(&m.ActionFirings),
		StaticFirings:  atomic.LoadInt64(&m.StaticFirings),
		HandlerErrors:  atomic.LoadInt64(&m.HandlerErrors),
		ActionRejected: atomic.LoadInt64(&m.ActionRejected),
		QueueDepth:     atomic.LoadInt64(&m.QueueDepth),
	}
}
