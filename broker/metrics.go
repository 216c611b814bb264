// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "delegate"

type metrics struct {
	tokenRequests   *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
}

// newMetrics creates the broker's collectors and registers them when reg is
// not nil. Collectors already registered by another broker are shared.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "broker",
			Name:      "token_requests_total",
			Help:      "Access tokens handed out, by whether they came from the cache or a refresh.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "broker",
			Name:      "refresh_total",
			Help:      "Refresh attempts against the provider, by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "broker",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of refresh requests to the provider.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.tokenRequests, err = register(reg, m.tokenRequests); err != nil {
		return nil, err
	}
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, err
	}
	if m.refreshDuration, err = register(reg, m.refreshDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("unable to register broker metrics: %w", err)
	}
	return c, nil
}

func (m *metrics) tokenServed(result string) {
	m.tokenRequests.WithLabelValues(result).Inc()
}

func (m *metrics) refreshed(outcome string, took time.Duration) {
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(took.Seconds())
}

const (
	resultCached    = "cached"
	resultRefreshed = "refreshed"

	outcomeSuccess     = "success"
	outcomeReauth      = "reauth"
	outcomeUnavailable = "unavailable"
)
