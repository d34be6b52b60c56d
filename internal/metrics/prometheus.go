package metrics

import "github.com/prometheus/client_golang/prometheus"

// promCollectors exposes the atomic counters and latency stats as
// Prometheus metrics. It implements prometheus.Collector directly rather
// than holding live prometheus.Counter/Gauge instances, since the
// authoritative values already live in Metrics' atomic fields.
type promCollectors struct {
	m *Metrics

	eventsEnqueued *prometheus.Desc
	eventsEvicted  *prometheus.Desc
	flushAttempts  *prometheus.Desc
	flushSuccesses *prometheus.Desc
	flushFailures  *prometheus.Desc

	turnsStarted   *prometheus.Desc
	turnsCompleted *prometheus.Desc
	turnsFailed    *prometheus.Desc
	retries        *prometheus.Desc

	ingestProcessed *prometheus.Desc
	ingestSkipped   *prometheus.Desc
	ingestErrors    *prometheus.Desc

	flushLatencyMean *prometheus.Desc
	turnLatencyMean  *prometheus.Desc
}

func newPromCollectors(m *Metrics) *promCollectors {
	ns := "bilan"
	return &promCollectors{
		m: m,
		eventsEnqueued:   prometheus.NewDesc(ns+"_events_enqueued_total", "Total events enqueued.", nil, nil),
		eventsEvicted:    prometheus.NewDesc(ns+"_events_evicted_total", "Total events dropped by FIFO eviction at queue capacity.", nil, nil),
		flushAttempts:    prometheus.NewDesc(ns+"_flush_attempts_total", "Total Event Queue flush attempts.", nil, nil),
		flushSuccesses:   prometheus.NewDesc(ns+"_flush_successes_total", "Total successful Event Queue flushes.", nil, nil),
		flushFailures:    prometheus.NewDesc(ns+"_flush_failures_total", "Total failed Event Queue flushes.", nil, nil),
		turnsStarted:     prometheus.NewDesc(ns+"_turns_started_total", "Total turns started.", nil, nil),
		turnsCompleted:   prometheus.NewDesc(ns+"_turns_completed_total", "Total turns completed successfully.", nil, nil),
		turnsFailed:      prometheus.NewDesc(ns+"_turns_failed_total", "Total turns that failed.", nil, nil),
		retries:          prometheus.NewDesc(ns+"_turn_retries_total", "Total turn retry attempts.", nil, nil),
		ingestProcessed:  prometheus.NewDesc(ns+"_ingest_processed_total", "Total events accepted by the ingest API.", nil, nil),
		ingestSkipped:    prometheus.NewDesc(ns+"_ingest_skipped_total", "Total events skipped by the ingest API (duplicates).", nil, nil),
		ingestErrors:     prometheus.NewDesc(ns+"_ingest_errors_total", "Total events rejected by the ingest API (validation or lookup errors).", nil, nil),
		flushLatencyMean: prometheus.NewDesc(ns+"_flush_latency_ms_mean", "Mean Event Queue flush latency in milliseconds.", nil, nil),
		turnLatencyMean:  prometheus.NewDesc(ns+"_turn_latency_ms_mean", "Mean turn latency in milliseconds.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (p *promCollectors) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.eventsEnqueued
	ch <- p.eventsEvicted
	ch <- p.flushAttempts
	ch <- p.flushSuccesses
	ch <- p.flushFailures
	ch <- p.turnsStarted
	ch <- p.turnsCompleted
	ch <- p.turnsFailed
	ch <- p.retries
	ch <- p.ingestProcessed
	ch <- p.ingestSkipped
	ch <- p.ingestErrors
	ch <- p.flushLatencyMean
	ch <- p.turnLatencyMean
}

// Collect implements prometheus.Collector, reading the live snapshot on
// every scrape so counters and latency means never drift from the JSON view.
func (p *promCollectors) Collect(ch chan<- prometheus.Metric) {
	snap := p.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(p.eventsEnqueued, prometheus.CounterValue, float64(snap.Queue.Enqueued))
	ch <- prometheus.MustNewConstMetric(p.eventsEvicted, prometheus.CounterValue, float64(snap.Queue.Evicted))
	ch <- prometheus.MustNewConstMetric(p.flushAttempts, prometheus.CounterValue, float64(snap.Queue.FlushAttempts))
	ch <- prometheus.MustNewConstMetric(p.flushSuccesses, prometheus.CounterValue, float64(snap.Queue.FlushSuccesses))
	ch <- prometheus.MustNewConstMetric(p.flushFailures, prometheus.CounterValue, float64(snap.Queue.FlushFailures))

	ch <- prometheus.MustNewConstMetric(p.turnsStarted, prometheus.CounterValue, float64(snap.Turns.Started))
	ch <- prometheus.MustNewConstMetric(p.turnsCompleted, prometheus.CounterValue, float64(snap.Turns.Completed))
	ch <- prometheus.MustNewConstMetric(p.turnsFailed, prometheus.CounterValue, float64(snap.Turns.Failed))
	ch <- prometheus.MustNewConstMetric(p.retries, prometheus.CounterValue, float64(snap.Turns.Retries))

	ch <- prometheus.MustNewConstMetric(p.ingestProcessed, prometheus.CounterValue, float64(snap.Ingest.Processed))
	ch <- prometheus.MustNewConstMetric(p.ingestSkipped, prometheus.CounterValue, float64(snap.Ingest.Skipped))
	ch <- prometheus.MustNewConstMetric(p.ingestErrors, prometheus.CounterValue, float64(snap.Ingest.Errors))

	ch <- prometheus.MustNewConstMetric(p.flushLatencyMean, prometheus.GaugeValue, snap.Latency.FlushMs.MeanMs)
	ch <- prometheus.MustNewConstMetric(p.turnLatencyMean, prometheus.GaugeValue, snap.Latency.TurnMs.MeanMs)
}
