package lim

import (
	"sync"
	"time"

	"nullbin/metrics"
	"nullbin/svc/util"
)

const (
	anomalyBuckets   = 5
	anomalyMinReqs   = 10
	anomalyThreshold = 5.0 // percent
)

// AnomalyDetector tracks the error rate over a rolling five minute
// window and fires onAnomaly when it climbs past the threshold.
type AnomalyDetector struct {
	mu        sync.Mutex
	window    [anomalyBuckets]bucket
	current   int
	onAnomaly func()
	done      chan struct{}
}

type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}

func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				d.advance()
			case <-d.done:
				ticker.Stop()
				return
			}
		}
	}()
}

func (d *AnomalyDetector) Stop() {
	close(d.done)
}

func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.current].requests++
}

func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.current].errors++
}

func (d *AnomalyDetector) advance() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var reqs, errs int64
	for _, b := range d.window {
		reqs += b.requests
		errs += b.errors
	}
	var errorRate float64
	if reqs > 0 {
		errorRate = float64(errs) / float64(reqs) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(errorRate)
	if reqs > anomalyMinReqs && errorRate > anomalyThreshold {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("requests", reqs).
			Int64("errors", errs).
			Msg("high error rate, tightening rate limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
	d.current = (d.current + 1) % anomalyBuckets
	d.window[d.current] = bucket{}
}
