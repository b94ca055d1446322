package metrics

import "github.com/prometheus/client_golang/prometheus"

// SinkState is the health of one publish target at scrape time.
type SinkState struct {
	Kind    string
	Name    string
	Running bool
}

var sinkUpDesc = prometheus.NewDesc(
	"simlink_sink_up",
	"1 when the sink is connected and publishing.",
	[]string{"kind", "name"}, nil,
)

// sinkCollector reads sink health on every scrape.
type sinkCollector struct {
	list func() []SinkState
}

func (s sinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sinkUpDesc
}

func (s sinkCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range s.list() {
		ch <- prometheus.MustNewConstMetric(sinkUpDesc, prometheus.GaugeValue, boolGauge(st.Running), st.Kind, st.Name)
	}
}

// RegisterSinks exports the sinks returned by list as simlink_sink_up.
func (c *Collector) RegisterSinks(list func() []SinkState) error {
	return c.registry.Register(sinkCollector{list: list})
}
