package stats

import (
	"time"

	"github.com/hashicorp/go-metrics"
)

// NewMetrics builds a metrics registry backed by an in-memory sink that keeps
// the last minute of ten second intervals.
func NewMetrics(service string) (*metrics.Metrics, *metrics.InmemSink, error) {
	var sink = metrics.NewInmemSink(10*time.Second, time.Minute)

	var conf = metrics.DefaultConfig(service)
	conf.EnableHostname = false
	conf.EnableHostnameLabel = false
	conf.EnableRuntimeMetrics = false

	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, nil, err
	}
	return m, sink, nil
}
