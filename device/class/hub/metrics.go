package hub

import "github.com/prometheus/client_golang/prometheus"

// Stall reasons.
const (
	reasonMalformed  = "malformed"
	reasonOutOfRange = "out_of_range"
	reasonNotOpen    = "not_open"
	reasonAmbiguous  = "ambiguous_descriptor"
	reasonTransfer   = "transfer"
)

// Metrics counts hub protocol activity. A nil *Metrics records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	stalls     *prometheus.CounterVec
	duplicates prometheus.Counter
	ambiguous  prometheus.Counter
	reports    *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softhub_hub_requests_total",
			Help: "Hub class requests dispatched, by request and target.",
		}, []string{"request", "target"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softhub_hub_stalls_total",
			Help: "Hub class requests answered with STALL, by reason.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softhub_hub_duplicate_requests_total",
			Help: "Retransmitted setup packets that were suppressed.",
		}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softhub_hub_ambiguous_descriptor_queries_total",
			Help: "GET_DESCRIPTOR requests that did not match the hub descriptor query.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softhub_hub_change_reports_total",
			Help: "Status change reports on the interrupt endpoint, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.stalls, m.duplicates, m.ambiguous, m.reports)
	}
	return m
}

func (m *Metrics) request(req Request) {
	if m == nil {
		return
	}
	target := "port"
	if req.Target.IsHub() {
		target = "hub"
	}
	m.requests.WithLabelValues(req.Kind.String(), target).Inc()
}

func (m *Metrics) stall(reason string) {
	if m != nil {
		m.stalls.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) ambiguousQuery() {
	if m != nil {
		m.ambiguous.Inc()
	}
}

func (m *Metrics) report(result string) {
	if m != nil {
		m.reports.WithLabelValues(result).Inc()
	}
}
