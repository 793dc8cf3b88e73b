package probe

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// Source is what the collector and the snapshot read from; *Tracer is one.
type Source interface {
	Status() map[string]string
	Counts() (map[string]uint64, error)
}

var (
	siteCallsDesc = prometheus.NewDesc(
		"tlsoverride_site_calls_total",
		"Calls observed at a BoringSSL hook site or accessor.",
		[]string{"symbol"}, nil,
	)
	siteStatusDesc = prometheus.NewDesc(
		"tlsoverride_site_status",
		"1 for the probe state of a symbol (ok, missing, error).",
		[]string{"symbol", "status"}, nil,
	)
)

// Collector exports a Source to Prometheus.
type Collector struct {
	src        Source
	readErrors prometheus.Counter
}

func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tlsoverride_counter_read_errors_total",
			Help: "Failed reads of the counter map.",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- siteCallsDesc
	ch <- siteStatusDesc
	ch <- c.readErrors.Desc()
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for sym, st := range c.src.Status() {
		ch <- prometheus.MustNewConstMetric(siteStatusDesc, prometheus.GaugeValue, 1, sym, st)
	}
	counts, err := c.src.Counts()
	if err != nil {
		c.readErrors.Inc()
	}
	for sym, n := range counts {
		ch <- prometheus.MustNewConstMetric(siteCallsDesc, prometheus.CounterValue, float64(n), sym)
	}
	ch <- c.readErrors
}

// Snapshot is the JSON metrics document written by the trace command.
type Snapshot struct {
	Library      string            `json:"library"`
	SiteCalls    map[string]uint64 `json:"siteCalls"`
	ReaderErrors uint64            `json:"readerErrors"`
	ProbeStatus  map[string]string `json:"probe_status"`
}

// Take reads src into s, counting a failed read instead of failing.
func (s *Snapshot) Take(src Source) {
	s.ProbeStatus = src.Status()
	counts, err := src.Counts()
	if err != nil {
		s.ReaderErrors++
		return
	}
	s.SiteCalls = counts
}

// WriteFile replaces path atomically with the snapshot.
func (s *Snapshot) WriteFile(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("probe: write metrics: %w", err)
	}
	return os.Rename(tmp, path)
}
