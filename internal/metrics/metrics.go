package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallCounter exposes call counts from the datastore.
type CallCounter interface {
	CountActive(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// RecordingCounter returns the total number of stored recordings.
type RecordingCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ClientCounter returns the number of connected notification clients.
type ClientCounter interface {
	TotalClients() int
}

// Collector is a prometheus.Collector that gathers PBXLink metrics at scrape time.
type Collector struct {
	calls      CallCounter
	recordings RecordingCounter
	clients    ClientCounter
	startTime  time.Time

	// Metric descriptors.
	activeCallsDesc *prometheus.Desc
	callsTotalDesc  *prometheus.Desc
	recordingsDesc  *prometheus.Desc
	wsClientsDesc   *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(calls CallCounter, recordings RecordingCounter, clients ClientCounter, startTime time.Time) *Collector {
	return &Collector{
		calls:      calls,
		recordings: recordings,
		clients:    clients,
		startTime:  startTime,

		activeCallsDesc: prometheus.NewDesc(
			"pbxlink_active_calls",
			"Number of currently active calls",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"pbxlink_calls_total",
			"Total number of calls recorded, by final status",
			[]string{"status"}, nil,
		),
		recordingsDesc: prometheus.NewDesc(
			"pbxlink_recordings",
			"Number of stored call recordings",
			nil, nil,
		),
		wsClientsDesc: prometheus.NewDesc(
			"pbxlink_notify_clients",
			"Number of connected notification websocket clients",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"pbxlink_uptime_seconds",
			"Seconds since the PBXLink process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.callsTotalDesc
	ch <- c.recordingsDesc
	ch <- c.wsClientsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		active, err := c.calls.CountActive(ctx)
		if err != nil {
			slog.Error("metrics: failed to count active calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue,
				float64(active),
			)
		}

		counts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for status, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(n), status,
				)
			}
		}
	}

	if c.recordings != nil {
		count, err := c.recordings.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count recordings", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.recordingsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	if c.clients != nil {
		ch <- prometheus.MustNewConstMetric(
			c.wsClientsDesc, prometheus.GaugeValue,
			float64(c.clients.TotalClients()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.CounterValue,
		time.Since(c.startTime).Seconds(),
	)
}
