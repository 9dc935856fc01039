// Package metrics exports tracker state as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/vmtrack/nmt"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Source is the part of *nmt.Tracker the collector reads.
type Source interface {
	Snapshot() summary.Snapshot
	FileTotals() summary.Snapshot
	Stats() nmt.Stats
}

const namespace = "vmtrack"

// Space label values.
const (
	SpaceVirtual = "virtual"
	SpaceFile    = "file"
)

// Collector reads a Source on every scrape. Tags with all-zero counters
// are not exported.
type Collector struct {
	src Source

	reserved        *prometheus.Desc
	committed       *prometheus.Desc
	peak            *prometheus.Desc
	boundaries      *prometheus.Desc
	stacks          *prometheus.Desc
	stacksDropped   *prometheus.Desc
	stacksContended *prometheus.Desc
	files           *prometheus.Desc
}

// NewCollector returns a collector over src. labels are attached to every
// metric as constant labels.
func NewCollector(src Source, labels prometheus.Labels) *Collector {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &Collector{
		src:             src,
		reserved:        desc("reserved_bytes", "Bytes currently reserved", "space", "tag"),
		committed:       desc("committed_bytes", "Bytes currently committed", "space", "tag"),
		peak:            desc("committed_peak_bytes", "Highest committed bytes observed", "space", "tag"),
		boundaries:      desc("tree_boundaries", "Boundary nodes in the virtual memory tree"),
		stacks:          desc("stacks", "Distinct call stacks stored"),
		stacksDropped:   desc("stacks_dropped_total", "Call stacks not stored because the store was full"),
		stacksContended: desc("stacks_contended_total", "Call stacks dropped under lock contention"),
		files:           desc("files", "Live tracked files"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reserved
	ch <- c.committed
	ch <- c.peak
	ch <- c.boundaries
	ch <- c.stacks
	ch <- c.stacksDropped
	ch <- c.stacksContended
	ch <- c.files
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	vm := c.src.Snapshot()
	c.collectSnapshot(ch, SpaceVirtual, &vm)
	files := c.src.FileTotals()
	c.collectSnapshot(ch, SpaceFile, &files)

	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.boundaries, prometheus.GaugeValue, float64(st.Boundaries))
	ch <- prometheus.MustNewConstMetric(c.stacks, prometheus.GaugeValue, float64(st.Stacks))
	ch <- prometheus.MustNewConstMetric(c.stacksDropped, prometheus.CounterValue, float64(st.StacksDropped))
	ch <- prometheus.MustNewConstMetric(c.stacksContended, prometheus.CounterValue, float64(st.StacksContended))
	ch <- prometheus.MustNewConstMetric(c.files, prometheus.GaugeValue, float64(st.Files))
}

func (c *Collector) collectSnapshot(ch chan<- prometheus.Metric, space string, s *summary.Snapshot) {
	s.Visit(func(t memtag.MemTag, cnt summary.Counters) bool {
		id := t.ID()
		ch <- prometheus.MustNewConstMetric(c.reserved, prometheus.GaugeValue, float64(cnt.Reserved), space, id)
		ch <- prometheus.MustNewConstMetric(c.committed, prometheus.GaugeValue, float64(cnt.Committed), space, id)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(cnt.Peak), space, id)
		return true
	})
}

// Register adds a collector for src to reg.
func Register(reg prometheus.Registerer, src Source, labels prometheus.Labels) (*Collector, error) {
	c := NewCollector(src, labels)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}
