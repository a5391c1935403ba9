// Package metrics exposes sync outcomes as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	treesync "github.com/schaermu/treesyncd/internal/sync"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	runsDesc = prometheus.NewDesc(
		"treesyncd_sync_runs_total",
		"Total number of sync runs by result",
		[]string{"result"},
		nil,
	)
	actionsDesc = prometheus.NewDesc(
		"treesyncd_sync_actions_total",
		"Total number of entries handled by action",
		[]string{"action"},
		nil,
	)
	lastSuccessDesc = prometheus.NewDesc(
		"treesyncd_last_success_timestamp_seconds",
		"Unix time of the last successful sync",
		nil,
		nil,
	)
	lastDurationDesc = prometheus.NewDesc(
		"treesyncd_last_sync_duration_seconds",
		"Duration of the last sync run",
		nil,
		nil,
	)
)

// Collector accumulates sync results. It is safe for concurrent use.
type Collector struct {
	lock sync.RWMutex

	runs         map[string]int64
	actions      map[string]int64
	lastSuccess  time.Time
	lastDuration time.Duration

	now func() time.Time
}

func NewCollector() *Collector {
	return &Collector{
		runs:    make(map[string]int64),
		actions: make(map[string]int64),
		now:     time.Now,
	}
}

// Record adds one run. res may be partial or nil when err is set.
func (c *Collector) Record(res *treesync.Result, duration time.Duration, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.lastDuration = duration

	if err != nil {
		c.runs[ResultFailure]++
	} else {
		c.runs[ResultSuccess]++
		c.lastSuccess = c.now()
	}

	if res == nil {
		return
	}
	c.actions["add"] += int64(res.Added)
	c.actions["update"] += int64(res.Updated)
	c.actions["delete"] += int64(res.Deleted)
	c.actions["skip"] += int64(res.Skipped)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- runsDesc
	ch <- actionsDesc
	ch <- lastSuccessDesc
	ch <- lastDurationDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for result, n := range c.runs {
		ch <- prometheus.MustNewConstMetric(runsDesc, prometheus.CounterValue, float64(n), result)
	}
	for action, n := range c.actions {
		ch <- prometheus.MustNewConstMetric(actionsDesc, prometheus.CounterValue, float64(n), action)
	}

	var last float64
	if !c.lastSuccess.IsZero() {
		last = float64(c.lastSuccess.Unix())
	}
	ch <- prometheus.MustNewConstMetric(lastSuccessDesc, prometheus.GaugeValue, last)
	ch <- prometheus.MustNewConstMetric(lastDurationDesc, prometheus.GaugeValue, c.lastDuration.Seconds())
}
